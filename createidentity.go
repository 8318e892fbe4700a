package main

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/fedilink/bridge/models"
)

type CreateIdentityCmd struct {
	Domain string `required:"" help:"domain to bridge"`
}

func (c *CreateIdentityCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	identities := models.NewIdentities(db)
	identity, err := identities.GetOrCreate(models.MinimizeDomain(c.Domain))
	if err != nil {
		return err
	}
	fmt.Printf("identity %s created %s\n", identity.Domain, identity.CreatedAt.Format("2006-01-02"))
	return nil
}
