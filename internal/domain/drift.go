package domain

// Accepted filters peers down to the ones that belong in the deployment.
func Accepted(peers []Peer) []Peer {
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if p.Status == StatusAccepted {
			out = append(out, p)
		}
	}
	return out
}

// Strip returns the comparable specs of peers. The result is never nil.
func Strip(peers []Peer) []PeerSpec {
	out := make([]PeerSpec, 0, len(peers))
	for _, p := range peers {
		out = append(out, p.Spec())
	}
	return out
}

// NeedsApply reports whether the accepted desired peers differ from the
// applied snapshot. Ids and titles are ignored and order does not matter.
func NeedsApply(desired []Peer, applied []PeerSpec) bool {
	return !SameSpecs(Strip(Accepted(desired)), applied)
}

func SameSpecs(a, b []PeerSpec) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, spec := range a {
		counts[spec.key()]++
	}
	for _, spec := range b {
		k := spec.key()
		if counts[k] == 0 {
			return false
		}
		counts[k]--
	}
	return true
}

// PartitionByOwner groups specs by their owner.
func PartitionByOwner(specs []PeerSpec) map[string][]PeerSpec {
	out := make(map[string][]PeerSpec)
	for _, spec := range specs {
		out[spec.OwnerID] = append(out[spec.OwnerID], spec)
	}
	return out
}
