package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/fedilink/bridge/activitypub"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
)

type VerifyCmd struct {
	Domain string `required:"" help:"domain to verify"`
	Host   string `required:"" help:"public hostname of the bridge"`
}

func (v *VerifyCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	base := &models.Env{DB: db, Logger: ctx.Logger}
	ap := activitypub.NewEnv(base, v.Host, translate.Basic{})

	identity, err := ap.Identities.GetOrCreate(models.MinimizeDomain(v.Domain))
	if err != nil {
		return err
	}
	if err := ap.VerifyIdentity(context.Background(), identity); err != nil {
		return err
	}
	fmt.Printf("%s: redirects=%v profile=%v", identity.Domain, identity.HasRedirects, identity.HasProfile)
	if identity.RedirectsError != "" {
		fmt.Printf(" (%s)", identity.RedirectsError)
	}
	fmt.Println()
	return nil
}
