// Package shared implements the cross-worker shared-state registry (C2): a
// factory that turns a topology's declared type tag into a concrete
// goroutine-safe primitive, addressable by name from every worker.
//
// This replaces the source framework's multiprocessing.Manager proxies —
// dict/list/Value/Lock objects backed by a manager process reachable from
// forked children. In this module workers are goroutines sharing one
// address space, so the same names resolve to ordinary mutex-guarded Go
// values instead of IPC proxies; callers see identical semantics.
package shared

import (
	"fmt"
	"sync"
)

// Tag identifies the concrete primitive a shared-state name resolves to.
type Tag string

const (
	TagDict         Tag = "dict"
	TagList         Tag = "list"
	TagLock         Tag = "Lock"
	TagValueBool    Tag = "Value:bool"
	TagValueInt     Tag = "Value:int"
	TagValueFloat   Tag = "Value:float"
	TagValueString  Tag = "Value:string"
)

// Object is the common interface satisfied by every shared-state primitive.
// It exists only so the registry can hold a heterogeneous map; callers type
// assert to the concrete type (*Dict, *List, *Lock, *Value[T]) they declared.
type Object interface {
	tag() Tag
}

// Dict is a process-safe map, the analogue of multiprocessing.Manager().dict().
type Dict struct {
	mu sync.RWMutex
	m  map[string]any
}

func newDict() *Dict { return &Dict{m: make(map[string]any)} }

func (d *Dict) tag() Tag { return TagDict }

// Set stores value under key.
func (d *Dict) Set(key string, value any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.m[key] = value
}

// Get retrieves the value stored under key, if any.
func (d *Dict) Get(key string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.m[key]
	return v, ok
}

// Delete removes key, if present.
func (d *Dict) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.m, key)
}

// Len returns the number of entries currently stored.
func (d *Dict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.m)
}

// Keys returns a snapshot of the currently stored keys.
func (d *Dict) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	keys := make([]string, 0, len(d.m))
	for k := range d.m {
		keys = append(keys, k)
	}
	return keys
}

// List is a process-safe append-only-friendly slice, the analogue of
// multiprocessing.Manager().list().
type List struct {
	mu sync.RWMutex
	s  []any
}

func newList() *List { return &List{} }

func (l *List) tag() Tag { return TagList }

// Append adds value to the end of the list.
func (l *List) Append(value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.s = append(l.s, value)
}

// Get returns the element at index and whether index was in range.
func (l *List) Get(index int) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.s) {
		return nil, false
	}
	return l.s[index], true
}

// Len returns the number of elements currently stored.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.s)
}

// Snapshot returns a copy of the underlying slice.
func (l *List) Snapshot() []any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]any, len(l.s))
	copy(out, l.s)
	return out
}

// Lock is an acquirable mutex exposed to workers that need finer-grained
// coordination over a Dict or List than the primitive's own internal lock
// provides — e.g. read-modify-write sequences spanning several calls.
type Lock struct {
	mu sync.Mutex
}

func newLock() *Lock { return &Lock{} }

func (l *Lock) tag() Tag { return TagLock }

// Acquire blocks until the lock is held by the caller.
func (l *Lock) Acquire() { l.mu.Lock() }

// Release releases a lock held by the caller.
func (l *Lock) Release() { l.mu.Unlock() }

// Value is an atomically-accessible cell of type T, the analogue of
// multiprocessing.Value. Construct through the registry so the tag recorded
// at add_shared_object time always matches the element type.
type Value[T any] struct {
	mu    sync.RWMutex
	v     T
	vtag  Tag
}

func newValue[T any](tag Tag, zero T) *Value[T] {
	return &Value[T]{v: zero, vtag: tag}
}

func (v *Value[T]) tag() Tag { return v.vtag }

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.v
}

// Set stores a new value.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.v = value
}

// Registry is the name-keyed collection of shared-state objects for one
// dispatcher instance. The zero value is not usable; create with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]Object)}
}

// Add creates a new shared-state object of the given tag under name.
// Returns an error if name already exists or tag is not recognised.
func (r *Registry) Add(name string, tag Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.objects[name]; exists {
		return fmt.Errorf("shared: object %q already exists", name)
	}

	obj, err := generate(tag)
	if err != nil {
		return err
	}
	r.objects[name] = obj
	return nil
}

// Del removes name from the registry. Absence is not an error — the caller
// is expected to log a warning, matching the source framework's idempotent
// del_shared_object.
func (r *Registry) Del(name string) (existed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.objects[name]; !exists {
		return false
	}
	delete(r.objects, name)
	return true
}

// Get returns the object registered under name.
func (r *Registry) Get(name string) (Object, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[name]
	return obj, ok
}

// Snapshot returns a copy of the name->object map, suitable for handing to a
// newly spawned worker. Objects themselves are shared by reference — only
// the map is copied.
func (r *Registry) Snapshot() map[string]Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Object, len(r.objects))
	for k, v := range r.objects {
		out[k] = v
	}
	return out
}

func generate(tag Tag) (Object, error) {
	switch tag {
	case TagDict:
		return newDict(), nil
	case TagList:
		return newList(), nil
	case TagLock:
		return newLock(), nil
	case TagValueBool:
		return newValue[bool](TagValueBool, false), nil
	case TagValueInt:
		return newValue[int](TagValueInt, 0), nil
	case TagValueFloat:
		return newValue[float64](TagValueFloat, 0), nil
	case TagValueString:
		return newValue[string](TagValueString, ""), nil
	default:
		return nil, fmt.Errorf("shared: unknown tag %q", tag)
	}
}
