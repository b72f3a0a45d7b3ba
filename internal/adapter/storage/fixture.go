package storage

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/speles7172/lahak/internal/core/domain"
)

// Fixture is the external seed for reference data and catalog rows. Items
// carry either a single running total or a per-location quantity map; one
// fixture must not mix the two shapes.
type Fixture struct {
	Locations []FixtureLocation `yaml:"locations"`
	Users     []FixtureUser     `yaml:"users"`
	Items     []FixtureItem     `yaml:"items"`
}

type FixtureLocation struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

type FixtureUser struct {
	Email           string `yaml:"email"`
	Name            string `yaml:"name"`
	DefaultLocation string `yaml:"default_location"`
}

type FixtureItem struct {
	Code      string             `yaml:"code"`
	Series    string             `yaml:"series"`
	Name      string             `yaml:"name"`
	Volume    string             `yaml:"volume"`
	Total     *float64           `yaml:"total"`
	Locations map[string]float64 `yaml:"locations"`
}

// ReadFixture parses a YAML fixture file.
func ReadFixture(path string) (*Fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read fixture %s", path)
	}
	var fx Fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, errors.Wrapf(err, "parse fixture %s", path)
	}
	return &fx, nil
}

// PerLocation reports the quantity shape of the fixture: true when any item
// carries a location map. A fixture mixing both shapes, or referencing an
// unregistered location, fails with the configuration error.
func (fx *Fixture) PerLocation() (bool, error) {
	registered := make(map[string]bool, len(fx.Locations))
	for _, loc := range fx.Locations {
		registered[domain.NormalizeCode(loc.Code)] = true
	}

	perLoc, single := false, false
	for _, it := range fx.Items {
		if it.Locations != nil {
			perLoc = true
			for loc := range it.Locations {
				if !registered[domain.NormalizeCode(loc)] {
					return false, errors.Wrapf(domain.ErrConfiguration,
						"item %s references unregistered location %s", it.Code, loc)
				}
			}
		}
		if it.Total != nil {
			single = true
		}
	}
	if perLoc && single {
		return false, errors.Wrap(domain.ErrConfiguration, "fixture mixes total and per-location quantities")
	}
	return perLoc, nil
}
