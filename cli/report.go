package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	. "github.com/corkboard/corkboard/types"
	"github.com/spf13/cobra"
)

func CommandCourses(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 0 {
		cmd.Help()
		os.Exit(1)
	}

	courses := []*Course{}
	mustGetObject("/courses", nil, &courses)
	if len(courses) == 0 {
		log.Printf("no courses found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tName\tCanvas course\tDomain\tActive\n")
	for _, course := range courses {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%v\n",
			course.ID, course.Name, course.CanvasCourseID, course.CanvasAPIDomain, course.Active)
	}
	w.Flush()
	fmt.Printf("%d course%s\n", len(courses), plural(len(courses)))
}

func CommandUsers(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	path := "/users"
	if len(args) == 1 {
		path = "/courses/" + args[0] + "/users"
	} else if len(args) != 0 {
		cmd.Help()
		os.Exit(1)
	}

	users := []*User{}
	mustGetObject(path, nil, &users)
	if len(users) == 0 {
		log.Printf("no users found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tName\tEmail\tCourse\tRole\n")
	for _, user := range users {
		role := user.CanvasCourseRole
		if user.Admin {
			role += " (admin)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n",
			user.ID, user.Name, user.Email, user.CourseID, strings.TrimSpace(role))
	}
	w.Flush()
	fmt.Printf("%d user%s\n", len(users), plural(len(users)))
}

func CommandAssets(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 0 {
		cmd.Help()
		os.Exit(1)
	}

	params := make(url.Values)
	if assetType := cmd.Flag("type").Value.String(); assetType != "" {
		params.Add("asset_type", assetType)
	}
	if title := cmd.Flag("title").Value.String(); title != "" {
		params.Add("title", title)
	}

	assets := []*Asset{}
	mustGetObject("/assets", params, &assets)
	if len(assets) == 0 {
		log.Printf("no assets found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tType\tTitle\tLikes\tComments\tViews\n")
	for _, asset := range assets {
		title := asset.Title
		if asset.DeletedAt != nil {
			title += " (deleted)"
		} else if !asset.Visible {
			title += " (hidden)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n",
			asset.ID, asset.AssetType, title, asset.Likes, asset.CommentCount, asset.Views)
	}
	w.Flush()
	fmt.Printf("%d asset%s\n", len(assets), plural(len(assets)))
}

func CommandAsset(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 1 {
		cmd.Help()
		os.Exit(1)
	}

	asset := new(Asset)
	if !getObject("/assets/"+args[0], nil, asset) {
		log.Fatalf("asset %s not found", args[0])
	}

	changed := false
	if title := cmd.Flag("title").Value.String(); title != "" {
		asset.Title = title
		changed = true
	}
	if description := cmd.Flag("description").Value.String(); description != "" {
		asset.Description = description
		changed = true
	}
	if cmd.Flag("hide").Value.String() == "true" {
		asset.Visible = false
		changed = true
	}
	if cmd.Flag("show").Value.String() == "true" {
		asset.Visible = true
		changed = true
	}
	if changed {
		updated := new(Asset)
		mustPutObject("/assets/"+args[0], nil, asset, updated)
		asset = updated
		fmt.Printf("updated asset %d\n", asset.ID)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", asset.ID)
	fmt.Fprintf(w, "Type\t%s\n", asset.AssetType)
	fmt.Fprintf(w, "Title\t%s\n", asset.Title)
	if asset.URL != "" {
		fmt.Fprintf(w, "URL\t%s\n", asset.URL)
	}
	if asset.Description != "" {
		fmt.Fprintf(w, "Description\t%s\n", asset.Description)
	}
	fmt.Fprintf(w, "Visible\t%v\n", asset.Visible)
	fmt.Fprintf(w, "Likes\t%d\n", asset.Likes)
	fmt.Fprintf(w, "Comments\t%d\n", asset.CommentCount)
	fmt.Fprintf(w, "Views\t%d\n", asset.Views)
	if asset.DeletedAt != nil {
		fmt.Fprintf(w, "Deleted\t%v\n", asset.DeletedAt.Format("2006-01-02 15:04"))
	}
	for _, owner := range asset.Users {
		fmt.Fprintf(w, "Owner\t%s (%d)\n", owner.Name, owner.ID)
	}
	w.Flush()
}

func CommandWhiteboards(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 0 {
		cmd.Help()
		os.Exit(1)
	}

	whiteboards := []*Whiteboard{}
	mustGetObject("/whiteboards", nil, &whiteboards)
	if len(whiteboards) == 0 {
		log.Printf("no whiteboards found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tTitle\tCourse\n")
	for _, whiteboard := range whiteboards {
		title := whiteboard.Title
		if whiteboard.DeletedAt != nil {
			title += " (deleted)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\n", whiteboard.ID, title, whiteboard.CourseID)
	}
	w.Flush()
	fmt.Printf("%d whiteboard%s\n", len(whiteboards), plural(len(whiteboards)))
}
