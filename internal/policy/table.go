package policy

import "strings"

// TableResolver resolves levels from a static per-site table with a default.
// Lookups try the exact host first, then parent domains, so an entry for
// "example.com" covers "mx1.example.com" as well.
type TableResolver struct {
	defaultLevel Level
	sites        map[string]Level
}

// NewTableResolver builds a resolver from configured level names. An
// unparseable level aborts construction.
func NewTableResolver(defaultLevel string, sites map[string]string) (*TableResolver, error) {
	def, err := ParseLevel(defaultLevel)
	if err != nil {
		return nil, err
	}

	table := make(map[string]Level, len(sites))
	for host, name := range sites {
		level, err := ParseLevel(name)
		if err != nil {
			return nil, err
		}
		table[strings.ToLower(host)] = level
	}

	return &TableResolver{defaultLevel: def, sites: table}, nil
}

// Resolve returns the most specific configured level for the host.
func (r *TableResolver) Resolve(host string) (Level, error) {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for host != "" {
		if level, ok := r.sites[host]; ok {
			return level, nil
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			break
		}
		host = host[dot+1:]
	}
	return r.defaultLevel, nil
}
