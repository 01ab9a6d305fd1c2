package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profile is a named set of session parameters loadable from a YAML
// file, so a run can be reproduced by name instead of by re-typing
// flags.
type profile struct {
	Name          string `yaml:"name"`
	NumPlayers    int    `yaml:"num_players"`
	InputSize     int    `yaml:"input_size"`
	CheckDistance int    `yaml:"check_distance"`
	Frames        int    `yaml:"frames"`
	FrameDelay    []int  `yaml:"frame_delay"`
}

type profileFile struct {
	Profiles []profile `yaml:"profiles"`
}

func loadProfiles(path string) ([]profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	return pf.Profiles, nil
}

func findProfile(profiles []profile, name string) (profile, error) {
	for _, p := range profiles {
		if p.Name == name {
			return p, nil
		}
	}
	return profile{}, fmt.Errorf("no profile named %q", name)
}
