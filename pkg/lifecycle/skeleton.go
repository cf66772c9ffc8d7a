package lifecycle

import (
	"github.com/nbdeploy/nbdeploy/pkg/engine"
	"github.com/nbdeploy/nbdeploy/pkg/project"
)

func strptr(s string) *string { return &s }

// skeletonManifest builds the manifest written by init for a fresh project.
// The variable schema covers the notebook server templates: compute sizing,
// the OAuth gateway credentials, and the access allow-list.
func skeletonManifest(ref engine.TemplateRef) *project.Manifest {
	return &project.Manifest{
		SchemaVersion: 1,
		Template:      ref.String(),
		Variables: []project.VariableDef{
			{
				Name:        "instance_type",
				Type:        "str",
				Required:    true,
				Description: "Compute instance type for the notebook host.",
			},
			{
				Name:        "volume_size_gb",
				Type:        "int",
				Default:     strptr("30"),
				Description: "Root volume size in GiB.",
			},
			{
				Name:        "custom_domain",
				Type:        "str",
				Default:     strptr(""),
				Description: "Custom domain for the notebook URL; empty uses the generated host name.",
			},
			{
				Name:        "letsencrypt_email",
				Type:        "str",
				Required:    true,
				Description: "Contact email for TLS certificate issuance.",
			},
			{
				Name:        "oauth_client_id",
				Type:        "str",
				Required:    true,
				Description: "OAuth application client ID for the authentication gateway.",
			},
			{
				Name:        "oauth_client_secret",
				Type:        "str",
				Required:    true,
				Sensitive:   true,
				Description: "OAuth application client secret; redacted from history.",
			},
			{
				Name:        "allowed_users",
				Type:        "list",
				Default:     strptr(""),
				Description: "Usernames allowed through the authentication gateway.",
			},
			{
				Name:        "allowed_teams",
				Type:        "list",
				Default:     strptr(""),
				Description: "Teams allowed through the authentication gateway.",
			},
			{
				Name:        "allowed_organization",
				Type:        "str",
				Default:     strptr(""),
				Description: "Organization allowed through the authentication gateway.",
			},
		},
	}
}
