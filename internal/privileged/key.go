// Package privileged defines the capability key that unlocks write access
// to frame buffer internals (capture metadata, fence attachment, request
// back-reference). Being internal, it can be obtained only by the
// collaborators inside this module.
package privileged

type token struct{ _ byte }

var granted = &token{}

// Key can not be built outside this package: its zero value is rejected.
type Key struct {
	token *token
}

// Grant returns a valid key.
func Grant() Key {
	return Key{token: granted}
}

func (k Key) IsValid() bool {
	return k.token == granted
}
