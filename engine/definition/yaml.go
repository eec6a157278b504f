// Copyright (c) 2023 xCherryIO Organization
// SPDX-License-Identifier: Apache-2.0

package definition

import (
	"os"

	"github.com/xcherryio/flowengine/common/errs"
	"gopkg.in/yaml.v3"
)

type (
	fileDocument struct {
		Processes []processDocument `yaml:"processes"`
	}

	processDocument struct {
		ProcessDefinition `yaml:",inline"`
		Activities        []*Activity `yaml:"activities"`
	}
)

// LoadFile reads the process definitions of a yaml file:
//
//	processes:
//	  - key: order
//	    activities:
//	      - {id: start, type: startEvent, outgoing: [ship]}
//	      - {id: ship, type: serviceTask, delegateName: ship, outgoing: [end]}
//	      - {id: end, type: endEvent}
func LoadFile(path string) ([]*ProcessDefinition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrapf(err, "cannot read process definitions from %s", path)
	}
	return Parse(content)
}

func Parse(content []byte) ([]*ProcessDefinition, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, errs.Configuration("malformed process definition document: %v", err)
	}
	var defs []*ProcessDefinition
	for _, p := range doc.Processes {
		def := p.ProcessDefinition
		def.Activities = make(map[string]*Activity, len(p.Activities))
		for _, a := range p.Activities {
			if _, ok := def.Activities[a.Id]; ok {
				return nil, errs.Configuration("activity %s is declared twice in process %s", a.Id, def.Key)
			}
			def.Activities[a.Id] = a
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, &def)
	}
	return defs, nil
}
