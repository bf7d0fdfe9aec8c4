// Package catalog loads and serves call chain, situation, template and transport definitions.
package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/dukex/callchain/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schema string

var (
	ErrSituationNotFound = errors.New("situation not found")
	ErrChainNotFound     = errors.New("call chain not found")
	ErrTemplateNotFound  = errors.New("template not found")
	ErrInvalidDocument   = errors.New("invalid definitions document")
	ErrUnknownReference  = errors.New("unknown reference")
	ErrDuplicateID       = errors.New("duplicate definition ID")
)

type TransportType string

const (
	TransportHTTP  TransportType = "http"
	TransportKafka TransportType = "kafka"
)

// TransportDefinition configures one named transport.
type TransportDefinition struct {
	Name          string            `yaml:"name"           validate:"required"`
	Type          TransportType     `yaml:"type"           validate:"required,oneof=http kafka"`
	BaseURL       string            `yaml:"base_url"       validate:"required_if=Type http"`
	Method        string            `yaml:"method"`
	Path          string            `yaml:"path"`
	Headers       map[string]string `yaml:"headers"`
	Timeout       time.Duration     `yaml:"timeout"`
	RetryAttempts int               `yaml:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration     `yaml:"retry_delay"`
	Brokers       []string          `yaml:"brokers"        validate:"required_if=Type kafka"`
	Topic         string            `yaml:"topic"          validate:"required_if=Type kafka"`
}

// Definitions is the document format of a catalog file, YAML or JSON.
type Definitions struct {
	Transports []TransportDefinition `yaml:"transports"  validate:"dive"`
	Templates  []*models.Template    `yaml:"templates"   validate:"dive"`
	Situations []*models.Situation   `yaml:"situations"  validate:"dive"`
	CallChains []*models.CallChain   `yaml:"call_chains" validate:"dive"`
}

// Catalog is read-only after construction.
type Catalog struct {
	transports []TransportDefinition
	templates  map[string]*models.Template
	situations map[string]*models.Situation
	chains     map[string]*models.CallChain
}

// Load reads a definitions file.
func Load(path string, validate *validator.Validate) (*Catalog, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}

	return Parse(data, validate)
}

// Parse validates a definitions document against the schema and builds a catalog from it.
func Parse(data []byte, validate *validator.Validate) (*Catalog, error) {
	var document any

	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	if document == nil {
		document = map[string]any{}
	}

	err = validateSchema(document)
	if err != nil {
		return nil, err
	}

	var defs Definitions

	err = yaml.Unmarshal(data, &defs)
	if err != nil {
		return nil, fmt.Errorf("failed to decode definitions: %w", err)
	}

	return New(defs, validate)
}

// New validates the definitions and their cross references.
func New(defs Definitions, validate *validator.Validate) (*Catalog, error) {
	err := validate.Struct(defs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDocument, err)
	}

	c := &Catalog{
		transports: defs.Transports,
		templates:  make(map[string]*models.Template, len(defs.Templates)),
		situations: make(map[string]*models.Situation, len(defs.Situations)),
		chains:     make(map[string]*models.CallChain, len(defs.CallChains)),
	}

	err = c.index(defs)
	if err != nil {
		return nil, err
	}

	err = c.checkReferences()
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Catalog) Situation(_ context.Context, id string) (*models.Situation, error) {
	situation, ok := c.situations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSituationNotFound, id)
	}

	return situation, nil
}

func (c *Catalog) CallChain(_ context.Context, id string) (*models.CallChain, error) {
	chain, ok := c.chains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChainNotFound, id)
	}

	return chain, nil
}

func (c *Catalog) Template(_ context.Context, id string) (*models.Template, error) {
	tmpl, ok := c.templates[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}

	return tmpl, nil
}

func (c *Catalog) Transports() []TransportDefinition {
	return slices.Clone(c.transports)
}

func (c *Catalog) CallChains() []*models.CallChain {
	chains := make([]*models.CallChain, 0, len(c.chains))
	for _, chain := range c.chains {
		chains = append(chains, chain)
	}

	slices.SortFunc(chains, func(a, b *models.CallChain) int {
		return strings.Compare(a.ID, b.ID)
	})

	return chains
}

func (c *Catalog) index(defs Definitions) error {
	transports := make(map[string]struct{}, len(defs.Transports))
	for _, t := range defs.Transports {
		if _, exists := transports[t.Name]; exists {
			return fmt.Errorf("%w: transport %s", ErrDuplicateID, t.Name)
		}

		transports[t.Name] = struct{}{}
	}

	for _, tmpl := range defs.Templates {
		if _, exists := c.templates[tmpl.ID]; exists {
			return fmt.Errorf("%w: template %s", ErrDuplicateID, tmpl.ID)
		}

		c.templates[tmpl.ID] = tmpl
	}

	for _, situation := range defs.Situations {
		if _, exists := c.situations[situation.ID]; exists {
			return fmt.Errorf("%w: situation %s", ErrDuplicateID, situation.ID)
		}

		c.situations[situation.ID] = situation
	}

	for _, chain := range defs.CallChains {
		if _, exists := c.chains[chain.ID]; exists {
			return fmt.Errorf("%w: call chain %s", ErrDuplicateID, chain.ID)
		}

		c.chains[chain.ID] = chain
	}

	return nil
}

func (c *Catalog) checkReferences() error {
	var errs []error

	hasTransport := func(name string) bool {
		return slices.ContainsFunc(c.transports, func(t TransportDefinition) bool { return t.Name == name })
	}

	hasTemplate := func(id string) bool {
		_, ok := c.templates[id]

		return ok
	}

	for _, situation := range c.situations {
		if !hasTransport(situation.Transport) {
			errs = append(errs, fmt.Errorf("%w: situation %s uses transport %s", ErrUnknownReference, situation.ID, situation.Transport))
		}

		if situation.TemplateID != "" && !hasTemplate(situation.TemplateID) {
			errs = append(errs, fmt.Errorf("%w: situation %s uses template %s", ErrUnknownReference, situation.ID, situation.TemplateID))
		}
	}

	for _, chain := range c.chains {
		for _, step := range chain.Steps {
			switch step.Kind.Base() {
			case models.StepKindSituation:
				if _, ok := c.situations[step.SituationID]; !ok {
					errs = append(errs, fmt.Errorf("%w: step %s of %s uses situation %s",
						ErrUnknownReference, step.ID, chain.ID, step.SituationID))
				}
			case models.StepKindEmbedded:
				if _, ok := c.chains[step.ChainID]; !ok {
					errs = append(errs, fmt.Errorf("%w: step %s of %s embeds %s",
						ErrUnknownReference, step.ID, chain.ID, step.ChainID))
				}
			case models.StepKindIntegration:
				if !hasTransport(step.Transport) {
					errs = append(errs, fmt.Errorf("%w: step %s of %s uses transport %s",
						ErrUnknownReference, step.ID, chain.ID, step.Transport))
				}
			}

			if step.TemplateID != "" && !hasTemplate(step.TemplateID) {
				errs = append(errs, fmt.Errorf("%w: step %s of %s uses template %s",
					ErrUnknownReference, step.ID, chain.ID, step.TemplateID))
			}
		}
	}

	return errors.Join(errs...)
}

func validateSchema(document any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate definitions: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidDocument, strings.Join(problems, "; "))
	}

	return nil
}
