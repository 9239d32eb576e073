package asset

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ClassNames is the value of a local class mapping entry.
type ClassNames struct {
	Names []string
	// Resolved entries hold final scoped names, unresolved ones hold
	// aliases of composed selectors.
	Resolved bool
}

// MarshalJSON emits resolved names as a single space separated string and
// aliases as a list.
func (n ClassNames) MarshalJSON() ([]byte, error) {
	if n.Resolved {
		return json.Marshal(strings.Join(n.Names, " "))
	}
	if n.Names == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(n.Names)
}

// ClassMap maps local class names to their scoped names.
type ClassMap map[string]ClassNames

// TempSelector returns process unique alias of selector declared in asset.
func TempSelector(asset, selector string) string {
	return fmt.Sprintf("%016x__%s", xxhash.Sum64String(asset), strings.TrimSpace(selector))
}

func resolvedClassMap(m map[string]string) ClassMap {
	cm := make(ClassMap, len(m))
	for local, names := range m {
		cm[local] = ClassNames{Names: strings.Fields(names), Resolved: true}
	}
	return cm
}
