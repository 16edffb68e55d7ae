package ogórek

import (
	"fmt"
	"sync"
)

// ExtensionRegistry maps globals to extension codes, as Python's copyreg
// add_extension does.
//
// Registered globals are pickled with EXT1, EXT2 or EXT4 opcodes instead of
// their module and name. Both sides of the communication must use the same
// registrations.
//
// ExtensionRegistry is safe for concurrent use.
type ExtensionRegistry struct {
	mu     sync.RWMutex
	byKey  map[Class]int32
	byCode map[int32]Class
}

// DefaultExtensions is the registry used by encoders and decoders whose
// configuration does not specify one.
var DefaultExtensions = NewExtensionRegistry()

// NewExtensionRegistry returns new empty registry.
func NewExtensionRegistry() *ExtensionRegistry {
	return &ExtensionRegistry{
		byKey:  make(map[Class]int32),
		byCode: make(map[int32]Class),
	}
}

// Add registers module.name under code.
//
// code must be in [1, 0x7fffffff]. Registering the same pair again is no-op,
// while reusing a key or a code for something else is an error.
func (r *ExtensionRegistry) Add(module, name string, code int32) error {
	if code <= 0 {
		return fmt.Errorf("extension: code %d out of range: %w", code, ErrBadExtension)
	}
	key := Class{Module: module, Name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, haveKey := r.byKey[key]
	k, haveCode := r.byCode[code]
	if haveKey && c == code && haveCode && k == key {
		return nil
	}
	if haveKey {
		return fmt.Errorf("extension: key %s.%s is already registered with code %d: %w", module, name, c, ErrBadExtension)
	}
	if haveCode {
		return fmt.Errorf("extension: code %d is already in use for key %s.%s: %w", code, k.Module, k.Name, ErrBadExtension)
	}
	r.byKey[key] = code
	r.byCode[code] = key
	return nil
}

// Remove unregisters module.name with code.
func (r *ExtensionRegistry) Remove(module, name string, code int32) error {
	key := Class{Module: module, Name: name}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byKey[key]; !ok || c != code || r.byCode[code] != key {
		return fmt.Errorf("extension: key %s.%s is not registered with code %d: %w", module, name, code, ErrBadExtension)
	}
	delete(r.byKey, key)
	delete(r.byCode, code)
	return nil
}

// Code returns extension code of module.name.
func (r *ExtensionRegistry) Code(module, name string) (code int32, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok = r.byKey[Class{Module: module, Name: name}]
	return code, ok
}

// Key returns the global registered under code.
func (r *ExtensionRegistry) Key(code int32) (key Class, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok = r.byCode[code]
	return key, ok
}
