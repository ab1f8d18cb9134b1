package engine

import (
	"slices"
	"strings"

	"github.com/roach88/arbor/internal/activity"
	"github.com/roach88/arbor/internal/attr"
)

// RequiredHandles returns the synchronization handles n must hold to run:
// its own, plus those of its enabled descendants unless n is itself a
// synchronization boundary. The result is sorted and de-duplicated.
func RequiredHandles(n *activity.Node) []string {
	handles := slices.Clone(n.Handles())
	if n.IsComposite() && !n.Has(activity.SyncBoundary) {
		for _, c := range n.EnabledChildren() {
			handles = append(handles, RequiredHandles(c)...)
		}
	}
	slices.Sort(handles)
	return slices.Compact(handles)
}

// GrantedLocks returns a copy of the grant table kept on n, keyed by
// handle. Only synchronization boundaries and the instance root keep one.
func GrantedLocks(n *activity.Node) map[string]GrantedLock {
	table := attr.Get[grantTable](n.Attrs(), grantedLocksProperty)
	if table == nil {
		return nil
	}
	out := make(map[string]GrantedLock, len(table))
	for h, g := range table {
		out[h] = *g.clone()
	}
	return out
}

// checkHandles rejects malformed handle declarations contributing to n's
// request: blank handles, or a handle declared twice on one node.
func checkHandles(n *activity.Node) error {
	own := n.Handles()
	for i, h := range own {
		if strings.TrimSpace(h) == "" {
			return newProtocolError(ErrCodeInvalidLockRequest, n, "blank synchronization handle")
		}
		if slices.Contains(own[:i], h) {
			return newProtocolError(ErrCodeInvalidLockRequest, n, "synchronization handle %q declared twice", h)
		}
	}
	if n.IsComposite() && !n.Has(activity.SyncBoundary) {
		for _, c := range n.EnabledChildren() {
			if err := checkHandles(c); err != nil {
				return err
			}
		}
	}
	return nil
}

// keepsGrantTable reports whether lock walks process n's table.
func keepsGrantTable(n *activity.Node) bool {
	return n.Has(activity.SyncBoundary) || n.Parent() == nil
}

// acquireLocks tries to take every handle n requires.
//
// The walk goes up from n's parent, processing the grant table of every
// boundary or root it passes, and stops after the first ancestor that
// declares handles of its own: that ancestor already holds them on behalf
// of its subtree. onAcquired is kept on n and invoked by a later release
// once the acquisition succeeds.
//
// Handles are taken one at a time in sorted order. On contention n joins
// the handle's wait list and the attempt fails, but handles granted
// earlier in the same attempt stay granted: acquisition is not atomic
// across handles. A malformed request fails before any table is touched.
func acquireLocks(rt Runtime, n *activity.Node, onAcquired func()) (bool, error) {
	if err := checkHandles(n); err != nil {
		return false, err
	}
	handles := RequiredHandles(n)
	if len(handles) == 0 {
		return true, nil
	}
	n.Attrs().Seed(lockAcquiredProperty, onAcquired)

	for p := n.Parent(); p != nil; p = p.Parent() {
		if keepsGrantTable(p) {
			table := attr.Get[grantTable](p.Attrs(), grantedLocksProperty)
			if table == nil {
				table = make(grantTable)
				p.Attrs().Seed(grantedLocksProperty, table)
			}
			for _, h := range handles {
				g, held := table[h]
				switch {
				case !held:
					table[h] = &GrantedLock{Holder: n}
				case g.Holder == n:
				default:
					if !slices.Contains(g.Waiters, n) {
						g.Waiters = append(g.Waiters, n)
					}
					_ = rt.Track("lock.wait", n)
					return false, nil
				}
			}
		}
		if len(p.Handles()) > 0 {
			break
		}
	}
	_ = n.Attrs().Remove(lockAcquiredProperty)
	return true, nil
}

// releaseLocks gives up the handles n required.
//
// Each handle n holds passes to the head of its wait list, or is dropped
// when nobody waits. n is removed from wait lists of handles it never got.
// With transactional set each processed grant table is first copied to
// the cached-locks slot, and the continuations of woken waiters are kept
// on n, so a failed close can restore both. Waiters that received a
// handle retry their whole acquisition; those that now hold everything
// have their continuation invoked.
func releaseLocks(rt Runtime, n *activity.Node, transactional bool) {
	_ = n.Attrs().Remove(lockAcquiredProperty)
	handles := RequiredHandles(n)
	if len(handles) == 0 {
		return
	}

	var woken []*activity.Node
	for p := n.Parent(); p != nil; p = p.Parent() {
		if keepsGrantTable(p) {
			if table := attr.Get[grantTable](p.Attrs(), grantedLocksProperty); table != nil {
				if transactional {
					cache := make(grantTable, len(table))
					for h, g := range table {
						cache[h] = g.clone()
					}
					p.Attrs().Seed(cachedGrantedLocksProperty, cache)
				}
				for _, h := range handles {
					g, ok := table[h]
					switch {
					case !ok:
					case g.Holder != n:
						g.Waiters = slices.DeleteFunc(g.Waiters, func(w *activity.Node) bool { return w == n })
					case len(g.Waiters) == 0:
						delete(table, h)
					default:
						next := g.Waiters[0]
						g.Waiters = slices.Clone(g.Waiters[1:])
						g.Holder = next
						if !slices.Contains(woken, next) {
							woken = append(woken, next)
						}
					}
				}
				if len(table) == 0 {
					_ = p.Attrs().Remove(grantedLocksProperty)
				}
			}
		}
		if len(p.Handles()) > 0 {
			break
		}
	}

	var kept []wokenWaiter
	for _, w := range woken {
		cb := attr.Get[func()](w.Attrs(), lockAcquiredProperty)
		if transactional {
			kept = append(kept, wokenWaiter{node: w, onAcquired: cb})
		}
		// Waiters passed checkHandles when they first queued.
		if ok, _ := acquireLocks(rt, w, cb); ok {
			_ = rt.Track("lock.acquired", w)
			if cb != nil {
				cb()
			}
		}
	}
	if len(kept) > 0 {
		n.Attrs().Seed(wokenWaitersProperty, kept)
	}
}

// clearCachedLocks drops the transactional lock snapshots above n once
// its close is final.
func clearCachedLocks(n *activity.Node) {
	_ = n.Attrs().Remove(wokenWaitersProperty)
	for p := n.Parent(); p != nil; p = p.Parent() {
		if keepsGrantTable(p) {
			_ = p.Attrs().Remove(cachedGrantedLocksProperty)
		}
	}
}

// restoreCachedLocks puts back the grant tables snapshotted by a
// transactional release, and re-arms the continuations of the waiters it
// woke: they are back in the wait lists and must run on the next release.
func restoreCachedLocks(n *activity.Node) {
	for _, w := range attr.Get[[]wokenWaiter](n.Attrs(), wokenWaitersProperty) {
		if w.onAcquired != nil {
			w.node.Attrs().Seed(lockAcquiredProperty, w.onAcquired)
		}
	}
	_ = n.Attrs().Remove(wokenWaitersProperty)
	for p := n.Parent(); p != nil; p = p.Parent() {
		if !keepsGrantTable(p) {
			continue
		}
		if cache := attr.Get[grantTable](p.Attrs(), cachedGrantedLocksProperty); cache != nil {
			p.Attrs().Seed(grantedLocksProperty, cache)
		}
		_ = p.Attrs().Remove(cachedGrantedLocksProperty)
	}
}
