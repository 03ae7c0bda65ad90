// Package recipe registers the deploy tasks, hooks and default settings for each
// supported application type.
package recipe

import (
	"fmt"
	"sort"
	"time"

	"github.com/unleashedtech/cmsdeploy/internal/graph"
	"github.com/unleashedtech/cmsdeploy/internal/hooks"
	"github.com/unleashedtech/cmsdeploy/internal/vars"
)

// Recipe installs one application type.
type Recipe struct {
	Name string
	Desc string
	// Defaults writes the recipe's variables. Fill is used for values a
	// deploy.yaml fill may have provided already; Set for values the recipe owns.
	Defaults func(s *vars.Store)
	// Register adds tasks to b and hooks to d.
	Register func(b *graph.Builder, d *hooks.Dispatcher)
}

// Install applies defaults and registrations.
func (r Recipe) Install(s *vars.Store, b *graph.Builder, d *hooks.Dispatcher) {
	if r.Defaults != nil {
		r.Defaults(s)
	}
	if r.Register != nil {
		r.Register(b, d)
	}
}

var recipes = map[string]Recipe{
	"common": {
		Name:     "common",
		Desc:     "Release layout, locking and publishing without an application layer",
		Defaults: commonDefaults,
		Register: func(b *graph.Builder, d *hooks.Dispatcher) {
			registerCommon(b)
			b.Group("deploy", "deploy:prepare", "deploy:vendors", "deploy:clear_paths", "deploy:publish").
				Desc("Deploys a project")
			d.On(hooks.FailedEvent("deploy"), "deploy:unlock")
		},
	},
	"magento2": {
		Name:     "magento2",
		Desc:     "Magento 2 storefront",
		Defaults: magentoDefaults,
		Register: registerMagento,
	},
	"drupal": {
		Name:     "drupal",
		Desc:     "Drupal site, single or multisite",
		Defaults: drupalDefaults,
		Register: registerDrupal,
	},
}

// Lookup returns the recipe registered under name.
func Lookup(name string) (Recipe, error) {
	r, ok := recipes[name]
	if !ok {
		return Recipe{}, fmt.Errorf("unknown recipe %q (available: %v)", name, Names())
	}
	return r, nil
}

// Names lists the available recipes.
func Names() []string {
	out := make([]string, 0, len(recipes))
	for name := range recipes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// now is replaced in tests.
var now = time.Now
