package config

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// Validate checks c against the schema and the constraints CUE cannot
// express.
func (c *Config) Validate() error {
	v := *c
	if v.Server.Tokens == nil {
		v.Server.Tokens = map[string]string{}
	}
	data, err := json.Marshal(&v)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	value := ctx.CompileBytes(data)
	if err := value.Err(); err != nil {
		return fmt.Errorf("compile config: %w", err)
	}
	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return err
	}

	for name, d := range map[string]Duration{
		"client.backoff":          c.Client.Backoff,
		"client.timeout":          c.Client.Timeout,
		"client.connect_timeout":  c.Client.ConnectTimeout,
		"server.status_cache_ttl": c.Server.StatusCacheTTL,
	} {
		if d.Duration <= 0 {
			return fmt.Errorf("%s: must be positive, got %s", name, d)
		}
	}
	return nil
}
