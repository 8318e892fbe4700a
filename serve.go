package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/group"
	"gorm.io/gorm"

	"github.com/fedilink/bridge/activitypub"
	"github.com/fedilink/bridge/internal/httpx"
	"github.com/fedilink/bridge/internal/translate"
	"github.com/fedilink/bridge/models"
	"github.com/fedilink/bridge/redirect"
	"github.com/fedilink/bridge/webmention"
	"github.com/fedilink/bridge/workers"
)

type ServeCmd struct {
	Addr string `help:"address to listen" default:":8080"`
	Host string `required:"" help:"public hostname of the bridge"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	base := &models.Env{DB: db, Logger: ctx.Logger}
	translator := translate.Basic{}
	ap := activitypub.NewEnv(base, s.Host, translator)
	wm := webmention.NewEnv(base, s.Host, translator)
	rd := &redirect.Env{
		Env:        base,
		Host:       s.Host,
		Identities: ap.Identities,
		Items:      ap.Items,
		Translator: translator,
	}

	queue := workers.NewQueue(wm.Engine, ctx.Logger)
	wm.Queue = queue

	resumer := workers.NewResumer(ap.Items, ap.Engine, ctx.Logger, map[string]workers.ResumeFunc{
		models.ProtocolActivityPub: ap.ResumeRequest,
		models.ProtocolWebmention:  wm.ResumeRequest,
	})

	apEnv := func(r *http.Request) *activitypub.Env { return ap }
	wmEnv := func(r *http.Request) *webmention.Env { return wm }
	rdEnv := func(r *http.Request) *redirect.Env { return rd }

	c := chi.NewRouter()
	c.Use(middleware.RequestID)
	c.Use(middleware.RealIP)
	c.Use(middleware.Recoverer)

	c.Get("/.well-known/webfinger", httpx.HandlerFunc(apEnv, activitypub.Webfinger))

	c.Post("/inbox", httpx.HandlerFunc(apEnv, activitypub.Inbox))
	c.Post("/{domain}/inbox", httpx.HandlerFunc(apEnv, activitypub.Inbox))
	c.Get("/{domain}/followers", httpx.HandlerFunc(apEnv, activitypub.FollowersCollection))
	c.Get("/{domain}/following", httpx.HandlerFunc(apEnv, activitypub.FollowingCollection))
	c.Get("/{domain}", httpx.HandlerFunc(apEnv, activitypub.ActorDocument))

	c.Get("/r/*", httpx.HandlerFunc(rdEnv, redirect.Handler))
	c.Get("/render", httpx.HandlerFunc(rdEnv, renderRedirect))

	c.Post("/webmention", httpx.HandlerFunc(wmEnv, webmention.Mention))
	c.Post("/queue/webmention", httpx.HandlerFunc(wmEnv, webmention.MentionQueued))

	svr := &http.Server{
		Addr:         s.Addr,
		Handler:      c,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	g := group.New(context.Background())
	g.Add(func(gctx context.Context) error {
		go func() {
			<-gctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			svr.Shutdown(shutdown)
		}()
		return svr.ListenAndServe()
	})
	g.Add(queue.Run)
	g.Add(resumer.Run)
	return g.Wait()
}

// renderRedirect bounces GET /render?id= to the connegotiated view of the
// stored item.
func renderRedirect(env *redirect.Env, w http.ResponseWriter, r *http.Request) error {
	var params struct {
		ID string `schema:"id"`
	}
	if err := httpx.Params(r, &params); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if params.ID == "" {
		return httpx.Error(http.StatusBadRequest, errors.New("id is required"))
	}
	return httpx.Redirect(w, "https://"+env.Host+redirect.Prefix+params.ID)
}
