package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Contract is a compiled JSON schema that model output must satisfy.
type Contract struct {
	name   string
	source string
	schema *jsonschema.Schema
}

// CompileContract compiles schemaJSON. name only shows up in error messages.
func CompileContract(name, schemaJSON string) (*Contract, error) {
	url := "mem://" + strings.ReplaceAll(name, " ", "_") + ".json"
	schema, err := jsonschema.CompileString(url, schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Contract{name: name, source: schemaJSON, schema: schema}, nil
}

func (c *Contract) Name() string {
	return c.name
}

// Source returns the schema text, for embedding in prompts.
func (c *Contract) Source() string {
	return c.source
}

// Validate checks a JSON document against the schema.
func (c *Contract) Validate(doc string) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(doc)))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("not valid JSON: %w", err)
	}
	if err := c.schema.Validate(v); err != nil {
		return err
	}
	return nil
}

const repairSystemPrompt = "You fix JSON documents so that they satisfy a JSON schema. Reply with the corrected JSON document only."

func repairPrompt(contract *Contract, previous string, problem error) string {
	var b strings.Builder
	b.WriteString("The following answer does not satisfy the required JSON schema.\n\nPROBLEM:\n")
	b.WriteString(problem.Error())
	if contract != nil {
		b.WriteString("\n\nSCHEMA:\n")
		b.WriteString(contract.Source())
	}
	b.WriteString("\n\nANSWER:\n")
	b.WriteString(previous)
	b.WriteString("\n\nReturn the corrected JSON document.")
	return b.String()
}

// CompleteJSON asks p for a JSON answer, extracts the JSON document and checks
// it against contract (nil only requires well-formed JSON). An answer that
// fails gets exactly one repair attempt; a second failure is KindInvalidOutput.
func CompleteJSON(ctx context.Context, p Provider, req CompletionRequest, contract *Contract) (string, *CompletionResponse, error) {
	req.JSON = true
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return "", nil, err
	}

	doc, verr := checkDocument(resp.Text, contract)
	if verr == nil {
		return doc, resp, nil
	}

	repair := CompletionRequest{
		System:      repairSystemPrompt,
		Prompt:      repairPrompt(contract, resp.Text, verr),
		JSON:        true,
		Model:       req.Model,
		Temperature: 0,
		MaxTokens:   req.MaxTokens,
	}
	repaired, err := p.Complete(ctx, repair)
	if err != nil {
		return "", nil, err
	}
	doc, verr2 := checkDocument(repaired.Text, contract)
	if verr2 != nil {
		return "", repaired, &Error{
			Provider: repaired.Provider,
			Kind:     KindInvalidOutput,
			Message:  "output still invalid after repair",
			Cause:    verr2,
		}
	}
	return doc, repaired, nil
}

func checkDocument(text string, contract *Contract) (string, error) {
	doc, err := ExtractJSON(text)
	if err != nil {
		return "", err
	}
	if contract != nil {
		if err := contract.Validate(doc); err != nil {
			return "", err
		}
	}
	return doc, nil
}
