package memory

// identityIndex maps identity -> set of token hashes.
//
// Not safe for concurrent use; Store guards it with its mutex.
type identityIndex map[string]map[string]struct{}

func (i identityIndex) add(identity, hash string) {
	set, ok := i[identity]
	if !ok {
		set = make(map[string]struct{})
		i[identity] = set
	}
	set[hash] = struct{}{}
}

func (i identityIndex) remove(identity, hash string) {
	set, ok := i[identity]
	if !ok {
		return
	}
	delete(set, hash)
	if len(set) == 0 {
		delete(i, identity)
	}
}

func (i identityIndex) count(identity string) int {
	return len(i[identity])
}

// hashes returns a copy of the identity's token hashes.
func (i identityIndex) hashes(identity string) []string {
	set := i[identity]
	out := make([]string, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	return out
}
