package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// registry holds every compiled-in module, keyed by ID. Populated from
// init() functions, read-mostly afterwards.
var registry = struct {
	sync.RWMutex
	byID map[string]ModuleInfo
}{byID: make(map[string]ModuleInfo)}

// RegisterModule registers a module by instantiating it to read its
// ModuleInfo. It panics on an empty ID, a nil New function, or a
// duplicate registration; all three are programmer errors at package
// init time. Intended to be called from init() functions.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID must not be empty")
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	registry.Lock()
	defer registry.Unlock()

	id := string(info.ID)
	if _, exists := registry.byID[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	registry.byID[id] = info
}

// GetModule returns the ModuleInfo for the given ID, or false if not found.
func GetModule(id string) (ModuleInfo, bool) {
	registry.RLock()
	defer registry.RUnlock()
	info, ok := registry.byID[id]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	registry.RLock()
	defer registry.RUnlock()
	return sortedInfos(func(string) bool { return true })
}

// GetModulesByNamespace returns all modules under the given namespace
// prefix, e.g. "channel" matches "channel.wsbridge".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	prefix := namespace + "."

	registry.RLock()
	defer registry.RUnlock()
	return sortedInfos(func(id string) bool {
		return strings.HasPrefix(id, prefix)
	})
}

// sortedInfos collects matching modules in ID order. Callers hold the
// registry lock.
func sortedInfos(match func(id string) bool) []ModuleInfo {
	var result []ModuleInfo
	for id, info := range registry.byID {
		if match(id) {
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	registry.Lock()
	defer registry.Unlock()
	registry.byID = make(map[string]ModuleInfo)
}
