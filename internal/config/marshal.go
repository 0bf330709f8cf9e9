// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"

	"grimm.is/pernet/internal/errors"
)

// MarshalHCL renders cfg as formatted HCL, with defaults applied. The
// output loads back to an equivalent configuration.
func MarshalHCL(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New(errors.KindValidation, "nil config")
	}
	c := cfg.Clone()
	c.applyDefaults()

	f := hclwrite.NewEmptyFile()
	root := f.Body()

	log := root.AppendNewBlock("log", nil).Body()
	log.SetAttributeValue("level", cty.StringVal(c.Log.Level))
	log.SetAttributeValue("json", cty.BoolVal(c.Log.JSON))
	root.AppendNewline()

	sys := root.AppendNewBlock("sysctl", nil).Body()
	sys.SetAttributeValue("max_tables", cty.NumberIntVal(int64(c.Sysctl.MaxTables)))
	sys.SetAttributeValue("share_default_template", cty.BoolVal(c.ShareDefaultTemplate()))
	root.AppendNewline()

	mem := root.AppendNewBlock("memory", nil).Body()
	mem.SetAttributeValue("limit_bytes", cty.NumberIntVal(c.Memory.LimitBytes))
	root.AppendNewline()

	api := root.AppendNewBlock("api", nil).Body()
	setString(api, "listen", c.API.Listen)
	setString(api, "socket", c.API.Socket)
	setString(api, "admin_token", c.API.AdminToken)
	root.AppendNewline()

	mp := root.AppendNewBlock("mptcp", nil).Body()
	mp.SetAttributeValue("ipv6", cty.BoolVal(c.IPv6()))

	for _, ns := range c.Namespaces {
		root.AppendNewline()
		b := root.AppendNewBlock("namespace", []string{ns.Name}).Body()
		if ns.Enabled != nil {
			b.SetAttributeValue("enabled", cty.BoolVal(*ns.Enabled))
		}
	}

	return hclwrite.Format(f.Bytes()), nil
}

func setString(b *hclwrite.Body, name, v string) {
	if v != "" {
		b.SetAttributeValue(name, cty.StringVal(v))
	}
}
