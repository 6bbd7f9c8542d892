package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Flarenzy/wg-ha/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	PeersVarsFile = "wireguard_peers"
	RulesVarsFile = "wireguard_custom_rules"
)

type ansiblePeer struct {
	Title      string           `yaml:"title"`
	OwnerID    string           `yaml:"user_id"`
	PublicKey  string           `yaml:"public_key"`
	AllowedIPs []string         `yaml:"allowed_ips"`
	Tags       []string         `yaml:"tags"`
	Services   []ansibleService `yaml:"services"`
}

type ansibleService struct {
	Rules       []ansibleRule `yaml:"rules"`
	AllowedTags []string      `yaml:"allowed_tags"`
}

type ansibleRule struct {
	Protocol string `yaml:"protocol"`
	Ports    []int  `yaml:"ports,omitempty"`
}

type ansibleCustomRule struct {
	Title    string `yaml:"title"`
	Type     string `yaml:"type"`
	Src      string `yaml:"src,omitempty"`
	Dst      string `yaml:"dst,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
	Port     string `yaml:"port,omitempty"`
}

// Ansible writes the variable files read by the apply playbooks into
// group_vars/all of the project.
type Ansible struct {
	dir string
}

func NewAnsible(projectPath string) *Ansible {
	return &Ansible{dir: filepath.Join(projectPath, "group_vars", "all")}
}

// Write renders both variable files.
func (a *Ansible) Write(peers []domain.Peer, rules []domain.CustomRule) error {
	if err := a.RenderPeers(peers); err != nil {
		return err
	}
	return a.RenderRules(rules)
}

func (a *Ansible) RenderPeers(peers []domain.Peer) error {
	out := make([]ansiblePeer, 0, len(peers))
	for _, peer := range peers {
		spec := peer.Spec()
		services := make([]ansibleService, 0, len(spec.Services))
		for _, svc := range spec.Services {
			rules := make([]ansibleRule, 0, len(svc.Rules))
			for _, rule := range svc.Rules {
				rules = append(rules, ansibleRule{Protocol: rule.Protocol, Ports: rule.Ports})
			}
			services = append(services, ansibleService{Rules: rules, AllowedTags: svc.AllowedTags})
		}
		out = append(out, ansiblePeer{
			Title:      peer.Title,
			OwnerID:    spec.OwnerID,
			PublicKey:  spec.PublicKey,
			AllowedIPs: spec.AllowedIPs,
			Tags:       spec.Tags,
			Services:   services,
		})
	}
	return a.write(PeersVarsFile, map[string]any{"wireguard_peers": out})
}

func (a *Ansible) RenderRules(rules []domain.CustomRule) error {
	out := make([]ansibleCustomRule, 0, len(rules))
	for _, rule := range rules {
		out = append(out, ansibleCustomRule{
			Title:    rule.Title,
			Type:     rule.Type,
			Src:      rule.Src,
			Dst:      rule.Dst,
			Protocol: rule.Protocol,
			Port:     rule.Port,
		})
	}
	return a.write(RulesVarsFile, map[string]any{"wireguard_custom_rules": out})
}

// write replaces name atomically so a running playbook never reads a
// partial file.
func (a *Ansible) write(name string, vars any) error {
	data, err := yaml.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("create vars dir: %w", err)
	}
	tmp, err := os.CreateTemp(a.dir, "."+name+"-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append([]byte("---\n"), data...)); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(a.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
