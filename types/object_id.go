// object_id.go derives stable identities for objects that must be tracked by address.

package types

import (
	"fmt"
	"reflect"
)

// ObjectID identifies an object by its address. Buffers and requests are
// never copied, so the address is a stable identity for their lifetime.
type ObjectID uint64

func (id ObjectID) String() string {
	return fmt.Sprintf("0x%x", uint64(id))
}

type GetObjectIDer interface {
	GetObjectID() ObjectID
}

type Pointer[T any] interface {
	*T
}

// GetObjectID returns the ObjectID of obj, or zero for a nil pointer.
func GetObjectID[P Pointer[T], T any](obj P) ObjectID {
	if obj == nil {
		return ObjectID(0)
	}
	ptr := reflect.ValueOf(obj).Pointer()
	if uintptr(uint64(ptr)) != ptr {
		panic("pointer value does not fit into uint64")
	}
	return ObjectID(uint64(ptr))
}
