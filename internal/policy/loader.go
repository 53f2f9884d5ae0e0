package policy

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/davidahmann/xaidecide/internal/crypto"
	"github.com/davidahmann/xaidecide/pkg/types"
)

type LoadedSeed struct {
	Seed  Seed
	Hash  string
	Bytes []byte
}

// LoadSeed loads a YAML seed file and computes its hash from raw bytes.
func LoadSeed(path string) (LoadedSeed, error) {
	// #nosec G304 -- path comes from operator-configured policy seed path.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedSeed{}, err
	}

	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return LoadedSeed{}, err
	}
	for domain := range s.Policies {
		if _, err := types.ParsePolicyDomain(domain); err != nil {
			return LoadedSeed{}, fmt.Errorf("seed %s: %w", path, err)
		}
	}

	return LoadedSeed{
		Seed:  s,
		Hash:  crypto.DigestWithPrefix(data),
		Bytes: data,
	}, nil
}

// Apply adds every seed policy that is not already stored. It returns how
// many were added.
func Apply(store Adder, seed Seed) (int, error) {
	domains := make([]string, 0, len(seed.Policies))
	for d := range seed.Policies {
		domains = append(domains, d)
	}
	sort.Strings(domains)

	added := 0
	for _, d := range domains {
		for _, text := range seed.Policies[d] {
			ok, err := store.AddPolicyIfAbsent(d, text)
			if err != nil {
				return added, fmt.Errorf("seed %s policy: %w", d, err)
			}
			if ok {
				added++
			}
		}
	}
	return added, nil
}
