package utils

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/script/v1"
)

const (
	scriptTitle           = "One-Click Sheets-Slack Alerter Bot"
	deploymentDescription = "Live deployment for Sheets-Slack Alerter"
)

// Provisioner creates and deploys the alerter script in the user's account.
type Provisioner struct {
	// Extra options let tests point the script and drive services at fake
	// endpoints.
	Options []option.ClientOption
}

// Provision performs the two-phase install: create the script project with
// the alerter source, then deploy it as a web app. If deployment fails
// after the project was created, the orphaned project is deleted through
// Drive on a best-effort basis before the deploy error is reported.
func (p *Provisioner) Provision(ctx context.Context, accessToken string) (scriptID, deploymentURL string, err error) {
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, p.Options...)

	scriptSrv, err := script.NewService(ctx, opts...)
	if err != nil {
		return "", "", fmt.Errorf("unable to create Apps Script service: %w", err)
	}

	// Phase 1: create the project and inject the alerter code.
	project, err := scriptSrv.Projects.Create(&script.CreateProjectRequest{
		Title: scriptTitle,
	}).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("script creation failed: %w", err)
	}
	scriptID = project.ScriptId

	content := &script.Content{
		Files: []*script.File{
			{
				Name:   "main",
				Type:   "SERVER_JS",
				Source: AlerterScriptSource(),
			},
			{
				Name:   "appsscript",
				Type:   "JSON",
				Source: AlerterManifestSource,
			},
		},
	}
	if _, err := scriptSrv.Projects.UpdateContent(scriptID, content).Context(ctx).Do(); err != nil {
		p.cleanupProject(ctx, opts, scriptID)
		return "", "", fmt.Errorf("script content upload failed: %w", err)
	}

	// Phase 2: deploy as a web app and extract the callable URL.
	deployment, err := scriptSrv.Projects.Deployments.Create(scriptID, &script.DeploymentConfig{
		VersionNumber:    1,
		ManifestFileName: "appsscript",
		Description:      deploymentDescription,
	}).Context(ctx).Do()
	if err != nil {
		p.cleanupProject(ctx, opts, scriptID)
		return "", "", fmt.Errorf("script deployment failed: %w", err)
	}

	for _, entry := range deployment.EntryPoints {
		if entry.EntryPointType == "WEB_APP" && entry.WebApp != nil && entry.WebApp.Url != "" {
			return scriptID, entry.WebApp.Url, nil
		}
	}

	p.cleanupProject(ctx, opts, scriptID)
	return "", "", fmt.Errorf("deployment has no web app entry point")
}

// cleanupProject deletes a half-provisioned script project so it does not
// linger untracked in the user's Drive. Failures are logged only; the
// caller still reports the original provisioning error.
func (p *Provisioner) cleanupProject(ctx context.Context, opts []option.ClientOption, scriptID string) {
	driveSrv, err := drive.NewService(ctx, opts...)
	if err != nil {
		log.Printf("orphan cleanup skipped, unable to create Drive service: %v", err)
		return
	}
	if err := driveSrv.Files.Delete(scriptID).Context(ctx).Do(); err != nil {
		log.Printf("orphan cleanup failed for project %s: %v", scriptID, err)
		return
	}
	log.Printf("cleaned up orphaned project %s after failed install", scriptID)
}
