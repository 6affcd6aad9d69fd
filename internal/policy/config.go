package policy

// PolicyConfig is the parsed threshold policy file.
//
//	version: 1
//	auditors:
//	  ec2-idle:
//	    params:
//	      max_cpu_avg: 3
//	  cost-spike:
//	    fail_on_findings: true
type PolicyConfig struct {
	Version  int                      `yaml:"version"`
	Auditors map[string]AuditorConfig `yaml:"auditors"`
}

// AuditorConfig overrides the defaults of one auditor.
type AuditorConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`
	// Params maps a threshold key (the flag name with "_" for "-") to its value.
	Params map[string]float64 `yaml:"params,omitempty"`
	// FailOnFindings turns a run with flagged resources into exit code 2.
	FailOnFindings bool `yaml:"fail_on_findings,omitempty"`
}
