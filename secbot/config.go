package secbot

import (
	"fmt"
	"os"
	"regexp"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Component is one configured workflow step: a handler name plus its static
// config and resolved credentials.
type Component struct {
	Name        string
	HandlerName string
	Config      map[string]any
	Env         map[string]string
}

// WorkflowJob binds an input to the scans, outputs and notifications that
// run for events matching its rules.
type WorkflowJob struct {
	Name      string
	InputName string

	// Rules map a dotted path inside the raw event to a regular expression
	// the value must fully match.
	Rules map[string]string

	Scans         []Component
	Outputs       []Component
	Notifications []Component
}

// Config is the parsed workflow configuration: jobs indexed by input name.
type Config struct {
	jobs map[string][]WorkflowJob
}

// LookupEnvFunc resolves an environment variable name to its value.
type LookupEnvFunc func(key string) (string, bool)

type rawComponent struct {
	HandlerName string            `yaml:"handler_name"`
	Config      map[string]any    `yaml:"config"`
	Env         map[string]string `yaml:"env"`
}

type rawJob struct {
	Name          string                       `yaml:"name"`
	Rules         map[string]map[string]string `yaml:"rules"`
	Scans         []string                     `yaml:"scans"`
	Outputs       []string                     `yaml:"outputs"`
	Notifications []string                     `yaml:"notifications"`
}

type rawConfig struct {
	Version    string                  `yaml:"version"`
	Components map[string]rawComponent `yaml:"components"`
	Jobs       []rawJob                `yaml:"jobs"`
}

// LoadConfig reads and parses the workflow configuration file, resolving
// component credentials from the process environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow config: %w", err)
	}
	return ParseConfig(data, os.LookupEnv)
}

// ParseConfig parses a version 1.0 workflow configuration. Component env
// entries name environment variables, resolved through lookupEnv at parse
// time so a misconfigured deployment fails on startup, not mid-scan.
func ParseConfig(data []byte, lookupEnv LookupEnvFunc) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	switch raw.Version {
	case "":
		return nil, fmt.Errorf("%w: config version is not specified", ErrConfig)
	case "1.0":
	default:
		return nil, fmt.Errorf("%w: unsupported config version: %s", ErrConfig, raw.Version)
	}

	components := make(map[string]Component, len(raw.Components))
	for name, rc := range raw.Components {
		var env map[string]string
		if len(rc.Env) > 0 {
			env = make(map[string]string, len(rc.Env))
			for key, envVar := range rc.Env {
				value, ok := lookupEnv(envVar)
				if !ok {
					return nil, fmt.Errorf("%w: %s for component %s", ErrConfigMissingEnv, envVar, name)
				}
				env[key] = value
			}
		}
		components[name] = Component{
			Name:        name,
			HandlerName: rc.HandlerName,
			Config:      rc.Config,
			Env:         env,
		}
	}
	if len(components) == 0 {
		return nil, fmt.Errorf("%w: no components found in config", ErrConfig)
	}

	resolve := func(job string, names []string) ([]Component, error) {
		resolved := make([]Component, 0, len(names))
		for _, name := range names {
			component, ok := components[name]
			if !ok {
				return nil, fmt.Errorf("%w: job %s references unknown component %s", ErrConfig, job, name)
			}
			resolved = append(resolved, component)
		}
		return resolved, nil
	}

	jobs := make(map[string][]WorkflowJob)
	for _, rj := range raw.Jobs {
		scans, err := resolve(rj.Name, rj.Scans)
		if err != nil {
			return nil, err
		}
		outputs, err := resolve(rj.Name, rj.Outputs)
		if err != nil {
			return nil, err
		}
		notifications, err := resolve(rj.Name, rj.Notifications)
		if err != nil {
			return nil, err
		}

		for inputName, rules := range rj.Rules {
			jobs[inputName] = append(jobs[inputName], WorkflowJob{
				Name:          rj.Name,
				InputName:     inputName,
				Rules:         rules,
				Scans:         scans,
				Outputs:       outputs,
				Notifications: notifications,
			})
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: no jobs found in config", ErrConfig)
	}

	return &Config{jobs: jobs}, nil
}

// Jobs returns the jobs configured for an input.
func (c *Config) Jobs(inputName string) []WorkflowJob {
	return c.jobs[inputName]
}

// MatchingJob returns the single job whose rules all match the raw event, or
// nil when none does. More than one match is a configuration defect: the
// workflow supports exactly one job per event.
func (c *Config) MatchingJob(inputName string, event []byte) (*WorkflowJob, error) {
	var matched []WorkflowJob
	for _, job := range c.jobs[inputName] {
		ok, err := jobMatches(job, event)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, job)
		}
	}
	if len(matched) > 1 {
		return nil, fmt.Errorf("%w: multiple jobs found for input %s", ErrConfig, inputName)
	}
	if len(matched) == 0 {
		return nil, nil
	}
	return &matched[0], nil
}

// jobMatches checks every rule of the job against the event. A rule's path
// is dotted (e.g. "project.path_with_namespace") and its value must fully
// match the rule's regular expression. An absent path never matches.
func jobMatches(job WorkflowJob, event []byte) (bool, error) {
	for path, expr := range job.Rules {
		re, err := regexp.Compile("^(?:" + expr + ")$")
		if err != nil {
			return false, fmt.Errorf("%w: rule %s of job %s: %v", ErrConfig, path, job.Name, err)
		}
		value := gjson.GetBytes(event, path)
		if !value.Exists() || !re.MatchString(value.String()) {
			return false, nil
		}
	}
	return true, nil
}
