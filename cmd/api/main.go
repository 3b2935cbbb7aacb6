package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"orgdir.org/internal/config"
	"orgdir.org/internal/container"
	"orgdir.org/internal/delegation"
	"orgdir.org/internal/directory"
	"orgdir.org/internal/httpapi"
	"orgdir.org/internal/mailer"
	"orgdir.org/internal/obs"
	"orgdir.org/internal/password"
	"orgdir.org/internal/store/pg"
	"orgdir.org/internal/users"
)

var version = "0.3.0"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("ORGDIR_COMMIT"))

	store, err := pg.Open(requireEnv("ORGDIR_PG_DSN"))
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	// Directory backend. Without LDAP settings the service runs on the
	// in-memory directory, which is enough for local development.
	var repo directory.Repository
	probe := httpapi.ReadyProbe{DB: store.DB()}
	if url := os.Getenv("ORGDIR_LDAP_URL"); url != "" {
		ld, err := directory.NewLDAP(directory.LDAPConfig{
			Addr:         url,
			BindDN:       os.Getenv("ORGDIR_LDAP_BIND_DN"),
			BindPassword: os.Getenv("ORGDIR_LDAP_BIND_PASSWORD"),
			UserBase:     os.Getenv("ORGDIR_LDAP_USER_BASE"),
			GroupBase:    os.Getenv("ORGDIR_LDAP_GROUP_BASE"),
			CompanyBase:  os.Getenv("ORGDIR_LDAP_COMPANY_BASE"),
		})
		if err != nil {
			log.Fatalf("ldap: %v", err)
		}
		repo = ld
		probe.Directory = ld
	} else {
		log.Printf("ORGDIR_LDAP_URL not set, using in-memory directory")
		repo = directory.NewInMemory()
	}

	var mail mailer.Sender = mailer.Nop{}
	if addr := os.Getenv("ORGDIR_SMTP_ADDR"); addr != "" {
		mail = &mailer.SMTP{
			Addr:     addr,
			Username: os.Getenv("ORGDIR_SMTP_USER"),
			Password: os.Getenv("ORGDIR_SMTP_PASSWORD"),
		}
	}

	resolver := delegation.NewResolver(repo.Users(), store.Delegates())
	scopes := container.NewScopeService(store.Scopes())
	groups := container.NewGroupResource(repo, resolver, scopes)
	companies := container.NewCompanyResource(repo, resolver, scopes)
	userSvc := users.NewService(repo, resolver, envOr("ORGDIR_QUARANTINE_COMPANY", "quarantine"))
	passwordSvc := password.NewService(repo.Users(), store.Resets(), mail, config.New(nil))

	// Recovery requests older than the retention window are purged nightly.
	sched := cron.New()
	if _, err := sched.AddFunc("0 1 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := passwordSvc.CleanRecoveries(ctx); err != nil {
			log.Printf("clean recoveries: %v", err)
			return
		}
		obs.ObserveRecoveryCleanup()
	}); err != nil {
		log.Fatalf("schedule cleanup: %v", err)
	}
	sched.Start()

	api := httpapi.New(httpapi.Config{
		ReadyProbe:  probe,
		Version:     version,
		TokenSecret: os.Getenv("ORGDIR_TOKEN_SECRET"),
		Groups:      groups,
		Companies:   companies,
		Scopes:      scopes,
		Users:       userSvc,
		Passwords:   passwordSvc,
	})

	srv := &http.Server{
		Addr:              envOr("ORGDIR_ADDR", ":8080"),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting orgdir-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-sched.Stop().Done()
	_ = srv.Shutdown(ctx)
	_ = store.Close()
	log.Println("Stopped")
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s is required", key)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
