package jenkins

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"slices"
)

// FolderConfig describes a folder item. Env is exposed to every job in the
// folder through the folder-properties plugin.
type FolderConfig struct {
	Description string
	Env         map[string]string
}

// PipelineConfig describes an inline pipeline job.
type PipelineConfig struct {
	Description string
	Script      string
}

type folderXML struct {
	XMLName     xml.Name            `xml:"com.cloudbees.hudson.plugins.folder.Folder"`
	Plugin      string              `xml:"plugin,attr"`
	Description string              `xml:"description"`
	Properties  folderPropertiesXML `xml:"properties"`
}

type folderPropertiesXML struct {
	FolderProperties *folderEnvXML `xml:"com.mig82.folders.properties.FolderProperties,omitempty"`
}

type folderEnvXML struct {
	Plugin     string              `xml:"plugin,attr"`
	Properties []folderPropertyXML `xml:"properties>com.mig82.folders.properties.StringProperty"`
}

type folderPropertyXML struct {
	Key   string `xml:"key"`
	Value string `xml:"value"`
}

type flowDefinitionXML struct {
	XMLName          xml.Name      `xml:"flow-definition"`
	Plugin           string        `xml:"plugin,attr"`
	Description      string        `xml:"description"`
	KeepDependencies bool          `xml:"keepDependencies"`
	Properties       struct{}      `xml:"properties"`
	Definition       definitionXML `xml:"definition"`
	Triggers         struct{}      `xml:"triggers"`
	Disabled         bool          `xml:"disabled"`
}

type definitionXML struct {
	Class   string `xml:"class,attr"`
	Plugin  string `xml:"plugin,attr"`
	Script  string `xml:"script"`
	Sandbox bool   `xml:"sandbox"`
}

type stringCredentialsXML struct {
	XMLName     xml.Name `xml:"org.jenkinsci.plugins.plaincredentials.impl.StringCredentialsImpl"`
	Scope       string   `xml:"scope"`
	ID          string   `xml:"id"`
	Description string   `xml:"description"`
	Secret      string   `xml:"secret"`
}

func marshalFolder(cfg FolderConfig) ([]byte, error) {
	f := folderXML{
		Plugin:      "cloudbees-folder",
		Description: cfg.Description,
	}
	if len(cfg.Env) > 0 {
		keys := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		env := &folderEnvXML{Plugin: "folder-properties"}
		for _, k := range keys {
			env.Properties = append(env.Properties, folderPropertyXML{Key: k, Value: cfg.Env[k]})
		}
		f.Properties.FolderProperties = env
	}
	return marshalDescriptor(f)
}

func unmarshalFolder(b []byte) (FolderConfig, error) {
	f := new(folderXML)
	if err := xml.Unmarshal(withoutDeclaration(b), f); err != nil {
		return FolderConfig{}, fmt.Errorf("%w: folder config: %w", ErrMalformedResponse, err)
	}
	cfg := FolderConfig{Description: f.Description}
	if f.Properties.FolderProperties != nil {
		cfg.Env = make(map[string]string)
		for _, p := range f.Properties.FolderProperties.Properties {
			cfg.Env[p.Key] = p.Value
		}
	}
	return cfg, nil
}

// marshalPipeline embeds the script as character data, so ampersands and
// angle brackets in the script are escaped by the encoder.
func marshalPipeline(cfg PipelineConfig) ([]byte, error) {
	return marshalDescriptor(flowDefinitionXML{
		Plugin:      "workflow-job",
		Description: cfg.Description,
		Definition: definitionXML{
			Class:   "org.jenkinsci.plugins.workflow.cps.CpsFlowDefinition",
			Plugin:  "workflow-cps",
			Script:  cfg.Script,
			Sandbox: true,
		},
	})
}

func unmarshalPipeline(b []byte) (PipelineConfig, error) {
	fd := new(flowDefinitionXML)
	if err := xml.Unmarshal(withoutDeclaration(b), fd); err != nil {
		return PipelineConfig{}, fmt.Errorf("%w: pipeline config: %w", ErrMalformedResponse, err)
	}
	return PipelineConfig{Description: fd.Description, Script: fd.Definition.Script}, nil
}

func marshalStringCredentials(id, description string) ([]byte, error) {
	return marshalDescriptor(stringCredentialsXML{
		Scope:       "GLOBAL",
		ID:          id,
		Description: description,
	})
}

func marshalDescriptor(v any) ([]byte, error) {
	b, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), b...), nil
}

// withoutDeclaration drops a leading <?xml ...?> header. Jenkins writes
// version 1.1 declarations, which encoding/xml refuses to decode.
func withoutDeclaration(b []byte) []byte {
	trimmed := bytes.TrimSpace(b)
	if !bytes.HasPrefix(trimmed, []byte("<?xml")) {
		return b
	}
	if i := bytes.Index(trimmed, []byte("?>")); i >= 0 {
		return trimmed[i+2:]
	}
	return b
}
