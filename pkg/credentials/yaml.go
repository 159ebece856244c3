package credentials

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFile is the structured credentials format:
//
//	providers:
//	  dns_ali:
//	    default:
//	      Ali_Key: xxxx
//	      Ali_Secret: yyyy
//	    accounts:
//	      account1:
//	        Ali_Key: zzzz
//
// Variables live under an explicit provider and account, so no name
// heuristic is needed to tell defaults from alternates.
type yamlFile struct {
	Providers map[string]yamlProvider `yaml:"providers"`
}

type yamlProvider struct {
	Default  map[string]string            `yaml:"default"`
	Accounts map[string]map[string]string `yaml:"accounts"`
}

func (r *Resolver) resolveYAML(provider, account string) (*Set, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return nil, &Error{Provider: provider, Account: account, Reason: err.Error()}
	}

	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &Error{
			Provider: provider,
			Account:  account,
			Reason:   fmt.Sprintf("failed to parse %s: %v", r.Path, err),
		}
	}

	p, ok := file.Providers[provider]
	if !ok {
		return nil, &Error{
			Provider: provider,
			Account:  account,
			Reason:   fmt.Sprintf("provider not declared in %s", r.Path),
		}
	}

	set := &Set{Account: account, Vars: make(map[string]string)}
	for name, value := range p.Default {
		if !validName.MatchString(name) {
			r.warnf("skipping declaration with invalid name %q", name)
			continue
		}
		if hasShellMeta(value) {
			r.warnf("skipping %s: value contains shell metacharacters", name)
			continue
		}
		set.Vars[name] = value
	}

	if account != "" {
		vars, ok := p.Accounts[account]
		if !ok && len(set.Vars) == 0 {
			return nil, &Error{
				Provider: provider,
				Account:  account,
				Reason:   "account not declared and no default credentials present",
			}
		}
		for name, value := range vars {
			if !validName.MatchString(name) {
				r.warnf("skipping declaration with invalid name %q", name)
				continue
			}
			if hasShellMeta(value) {
				r.warnf("skipping %s: value contains shell metacharacters", name)
				continue
			}
			set.Vars[name] = value
		}
	}

	if len(set.Vars) == 0 {
		return nil, &Error{
			Provider: provider,
			Account:  account,
			Reason:   fmt.Sprintf("no credential variables found in %s", r.Path),
		}
	}
	return set, nil
}
