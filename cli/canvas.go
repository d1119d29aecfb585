package main

import (
	"fmt"
	"log"
	"os"
	"strings"
	"text/tabwriter"

	. "github.com/corkboard/corkboard/types"
	"github.com/spf13/cobra"
	"gopkg.in/gcfg.v1"
)

type CanvasConfigFile struct {
	Canvas struct {
		Domain          string
		Key             string
		Secret          string
		CustomMessaging bool
	}
}

func CommandCanvas(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 0 {
		cmd.Help()
		os.Exit(1)
	}

	instances := []*CanvasInstance{}
	mustGetObject("/canvas", nil, &instances)
	if len(instances) == 0 {
		log.Printf("no canvas instances registered")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tDomain\tLTI key\tCustom messaging\n")
	for _, instance := range instances {
		fmt.Fprintf(w, "%d\t%s\t%s\t%v\n",
			instance.ID, instance.CanvasAPIDomain, instance.LtiKey, instance.SupportsCustomMessaging)
	}
	w.Flush()
	fmt.Printf("%d instance%s\n", len(instances), plural(len(instances)))
}

func CommandCanvasAdd(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 1 {
		cmd.Help()
		os.Exit(1)
	}
	path := args[0]

	cfg := CanvasConfigFile{}
	if err := gcfg.ReadFileInto(&cfg, path); err != nil {
		log.Fatalf("failed to parse %s: %v", path, err)
	}

	instance := &CanvasInstance{
		CanvasAPIDomain:         strings.TrimSpace(cfg.Canvas.Domain),
		LtiKey:                  strings.TrimSpace(cfg.Canvas.Key),
		LtiSecret:               strings.TrimSpace(cfg.Canvas.Secret),
		SupportsCustomMessaging: cfg.Canvas.CustomMessaging,
	}
	if instance.CanvasAPIDomain == "" {
		log.Fatalf("%s must set domain in the [canvas] section", path)
	}
	if instance.LtiKey == "" || instance.LtiSecret == "" {
		log.Fatalf("%s must set key and secret in the [canvas] section", path)
	}

	saved := new(CanvasInstance)
	mustPostObject("/canvas", nil, instance, saved)
	fmt.Printf("registered canvas instance %d for %s\n", saved.ID, saved.CanvasAPIDomain)
}
