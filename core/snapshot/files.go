package snapshot

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File-name suffixes of the per-tenant snapshot triplet.
const (
	mainExt       = ".bin"
	lexiconSuffix = "_lexicon.bin"
	aliasSuffix   = "_aliases.bin"
)

// MainPath returns dir/<tenant>.bin.
func MainPath(dir, tenant string) string { return filepath.Join(dir, tenant+mainExt) }

// LexiconPath returns dir/<tenant>_lexicon.bin.
func LexiconPath(dir, tenant string) string {
	return filepath.Join(dir, tenant+lexiconSuffix)
}

// AliasPath returns dir/<tenant>_aliases.bin.
func AliasPath(dir, tenant string) string {
	return filepath.Join(dir, tenant+aliasSuffix)
}

// ListTenants returns the tenant IDs that have a main snapshot in dir,
// sorted. Lexicon and alias files never appear on their own.
func ListTenants(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var tenants []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, mainExt) {
			continue
		}
		if strings.HasSuffix(name, lexiconSuffix) || strings.HasSuffix(name, aliasSuffix) {
			continue
		}
		tenants = append(tenants, strings.TrimSuffix(name, mainExt))
	}
	sort.Strings(tenants)
	return tenants
}
