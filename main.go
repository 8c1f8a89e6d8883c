package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/nishantd01/sheetwatch/config"
	v1 "github.com/nishantd01/sheetwatch/controllers/v1"
	"github.com/nishantd01/sheetwatch/db"
	"github.com/nishantd01/sheetwatch/rulesvc"
	"github.com/nishantd01/sheetwatch/service"
	"github.com/nishantd01/sheetwatch/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	store, err := db.Open(cfg.SQLiteDSN)
	if err != nil {
		log.Fatalf("failed to open installation store: %v", err)
	}
	defer store.Close()

	auth := utils.NewGoogleAuthClient(cfg.ClientID, cfg.ClientSecret, cfg.RedirectURL)
	session := service.NewSessionController(
		auth,
		&utils.ProfileFetcher{},
		&utils.Provisioner{},
		service.NewRuleClient(),
		store,
	)
	session.Start(context.Background())

	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	sessionController := v1.NewSessionController(session)
	ruleController := v1.NewRuleController(session)

	v1Group := r.Group("/api/v1")
	{
		v1Group.GET("/session", sessionController.GetSession)
		v1Group.GET("/auth/url", sessionController.GetAuthURL)
		v1Group.GET("/auth/callback", sessionController.AuthCallback)
		v1Group.POST("/install", sessionController.Install)
		v1Group.POST("/logout", sessionController.Logout)
		v1Group.GET("/rules", ruleController.ListRules)
		v1Group.POST("/rules", ruleController.CreateRule)
		v1Group.DELETE("/rules/:triggerId", ruleController.DeleteRule)
	}

	if cfg.EnableEmulator {
		// Local stand-in for the deployed rule service; point the saved
		// deploymentUrl at it to develop without provisioning.
		emulator := rulesvc.New(&rulesvc.GoogleSheetDirectory{Token: session.AccessToken})
		r.GET("/emulator/exec", emulator.Handler)
		log.Println("rule service emulator mounted at /emulator/exec")
	}

	if err := r.Run(fmt.Sprintf(":%d", cfg.HTTPPort)); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
