package main

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
	. "github.com/corkboard/corkboard/types"
	"github.com/spf13/cobra"
)

const (
	perUserDotFile = ".corkboardrc"
	urlPrefix      = "/api"
)

var Config struct {
	Host      string `json:"host"`
	Cookie    string `json:"cookie"`
	apiReport bool
	apiDump   bool
}

func main() {
	log.SetFlags(0)

	cmdCbadmin := &cobra.Command{
		Use:   "cbadmin",
		Short: "Command-line administration tool for Corkboard",
		Long:  "A command-line tool to administer a Corkboard server",
	}
	cmdCbadmin.PersistentFlags().BoolVarP(&Config.apiReport, "api", "", false, "report all API requests")
	cmdCbadmin.PersistentFlags().BoolVarP(&Config.apiDump, "api-dump", "", false, "dump API request and response data")

	cmdVersion := &cobra.Command{
		Use:   "version",
		Short: "print the version number of cbadmin",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cbadmin " + CurrentVersion.Version)
		},
	}
	cmdCbadmin.AddCommand(cmdVersion)

	cmdLogin := &cobra.Command{
		Use:   "login <hostname> <sessionkey>",
		Short: "login to a corkboard server",
		Long: "To log in, open Corkboard through Canvas and request a session key\n" +
			"from your profile page; <hostname> and <sessionkey> are listed there.\n\n" +
			"Session keys expire after a few minutes and can only be used once.",
		Run: CommandLogin,
	}
	cmdCbadmin.AddCommand(cmdLogin)

	cmdCourses := &cobra.Command{
		Use:   "courses",
		Short: "list the courses you can see",
		Run:   CommandCourses,
	}
	cmdCbadmin.AddCommand(cmdCourses)

	cmdUsers := &cobra.Command{
		Use:   "users [course id]",
		Short: "list users, optionally limited to one course",
		Run:   CommandUsers,
	}
	cmdCbadmin.AddCommand(cmdUsers)

	cmdAssets := &cobra.Command{
		Use:   "assets",
		Short: "list the assets you can see",
		Long: "Lists assets with their like and comment counts.\n" +
			"Administrators see every asset, including hidden and deleted ones.",
		Run: CommandAssets,
	}
	cmdAssets.Flags().StringP("type", "t", "", "limit results to one asset type")
	cmdAssets.Flags().StringP("title", "", "", "filter by case-insensitive title substring")
	cmdCbadmin.AddCommand(cmdAssets)

	cmdAsset := &cobra.Command{
		Use:   "asset <asset id>",
		Short: "show one asset, optionally updating it",
		Long: "Shows a single asset with its owners.\n" +
			"With --title, --description, --hide, or --show the asset is\n" +
			"updated first; the usual update rules apply (owner, teaching\n" +
			"staff, or administrator).",
		Run: CommandAsset,
	}
	cmdAsset.Flags().StringP("title", "", "", "set a new title")
	cmdAsset.Flags().StringP("description", "", "", "set a new description")
	cmdAsset.Flags().BoolP("hide", "", false, "hide the asset from other course members")
	cmdAsset.Flags().BoolP("show", "", false, "make the asset visible again")
	cmdCbadmin.AddCommand(cmdAsset)

	cmdWhiteboards := &cobra.Command{
		Use:   "whiteboards",
		Short: "list the whiteboards you can see",
		Run:   CommandWhiteboards,
	}
	cmdCbadmin.AddCommand(cmdWhiteboards)

	cmdCanvas := &cobra.Command{
		Use:   "canvas",
		Short: "list registered Canvas instances (admins only)",
		Run:   CommandCanvas,
	}
	cmdCbadmin.AddCommand(cmdCanvas)

	cmdCanvasAdd := &cobra.Command{
		Use:   "canvasadd <filename.cfg>",
		Short: "register a Canvas instance from a config file (admins only)",
		Long: "Give the name of a .cfg file describing the Canvas instance.\n\n" +
			"   Example file contents:\n\n" +
			"   [canvas]\n" +
			"   domain = canvas.example.edu\n" +
			"   key = mykey\n" +
			"   secret = mysecret\n" +
			"   custommessaging = true\n",
		Run: CommandCanvasAdd,
	}
	cmdCbadmin.AddCommand(cmdCanvasAdd)

	cmdCbadmin.Execute()
}

type cliLoginSession struct {
	Cookie string `json:"cookie"`
}

func CommandLogin(cmd *cobra.Command, args []string) {
	if len(args) != 2 {
		fmt.Printf("To log in, open Corkboard through Canvas and request a session\n"+
			"key from your profile page. Then run a command of the form:\n\n"+
			"%s login <hostname> <sessionkey>\n\n"+
			"where <hostname> and <sessionkey> are given on the profile page.\n\n", os.Args[0])

		log.Fatalf("Usage: %s login <hostname> <sessionkey>", os.Args[0])
	}
	hostname, key := args[0], args[1]
	Config.Host = hostname

	params := make(url.Values)
	params.Add("key", key)
	session := new(cliLoginSession)
	mustGetObject("/users/session", params, session)

	// set up config
	Config.Cookie = session.Cookie

	// see if they need an upgrade
	checkVersion()

	// try it out by fetching a user record
	user := new(User)
	mustGetObject("/users/me", nil, user)

	// save config for later use
	mustWriteConfig()

	fmt.Printf("login successful; welcome %s\n", user.Name)
}

func mustGetObject(path string, params url.Values, download interface{}) {
	doRequest(path, params, "GET", nil, download, false)
}

func getObject(path string, params url.Values, download interface{}) bool {
	return doRequest(path, params, "GET", nil, download, true)
}

func mustPostObject(path string, params url.Values, upload interface{}, download interface{}) {
	doRequest(path, params, "POST", upload, download, false)
}

func mustPutObject(path string, params url.Values, upload interface{}, download interface{}) {
	doRequest(path, params, "PUT", upload, download, false)
}

func doRequest(path string, params url.Values, method string, upload interface{}, download interface{}, notfoundokay bool) bool {
	if !strings.HasPrefix(path, "/") {
		log.Panicf("doRequest path must start with /")
	}
	if method != "GET" && method != "POST" && method != "PUT" && method != "DELETE" {
		log.Panicf("doRequest only recognizes GET, POST, PUT, and DELETE methods")
	}
	url := fmt.Sprintf("https://%s%s%s", Config.Host, urlPrefix, path)
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		log.Fatalf("error creating http request: %v\n", err)
	}

	// add any parameters
	if params != nil && len(params) > 0 {
		req.URL.RawQuery = params.Encode()
	}

	if Config.apiReport {
		fmt.Printf("%s %s\n", method, req.URL)
	}

	// set the headers
	req.Header.Add("Cookie", Config.Cookie)
	if download != nil {
		req.Header.Add("Accept", "application/json")
		req.Header.Add("Accept-Encoding", "gzip")
	}

	// upload the payload if any
	if upload != nil && (method == "POST" || method == "PUT") {
		req.Header.Add("Content-Type", "application/json")
		req.Header.Add("Content-Encoding", "gzip")
		payload := new(bytes.Buffer)
		gw := gzip.NewWriter(payload)
		uncompressed := new(bytes.Buffer)
		var jsontarget io.Writer
		if Config.apiDump {
			jsontarget = io.MultiWriter(gw, uncompressed)
		} else {
			jsontarget = gw
		}
		jw := json.NewEncoder(jsontarget)
		if err := jw.Encode(upload); err != nil {
			log.Fatalf("doRequest: JSON error encoding object to upload: %v", err)
		}
		if err := gw.Close(); err != nil {
			log.Fatalf("doRequest: gzip error encoding object to upload: %v", err)
		}
		req.Body = ioutil.NopCloser(payload)

		if Config.apiDump {
			fmt.Printf("Request data: %s\n", uncompressed)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("error connecting to %s: %v", Config.Host, err)
	}
	defer resp.Body.Close()
	if notfoundokay && resp.StatusCode == http.StatusNotFound {
		return false
	}
	if resp.StatusCode != http.StatusOK {
		log.Printf("unexpected status from %s: %s", url, resp.Status)
		dumpBody(resp)
		log.Fatalf("giving up")
	}

	// parse the result if any
	if download != nil {
		body := resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gz, err := gzip.NewReader(body)
			if err != nil {
				log.Fatalf("failed to decompress gzip result: %v", err)
			}
			body = gz
			defer gz.Close()
		}
		decoder := json.NewDecoder(body)
		if err := decoder.Decode(download); err != nil {
			log.Fatalf("failed to parse result object from server: %v", err)
		}

		if Config.apiDump {
			raw, err := json.MarshalIndent(download, "", "    ")
			if err != nil {
				log.Fatalf("doRequest: JSON error encoding downloaded object: %v", err)
			}
			fmt.Printf("Response data: %s\n", raw)
		}

		return true
	}
	return false
}

func mustLoadConfig(cmd *cobra.Command) {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	if home == "" {
		log.Fatalf("home directory is not set")
	}
	configFile := filepath.Join(home, perUserDotFile)

	if raw, err := ioutil.ReadFile(configFile); err != nil {
		log.Fatalf("Unable to load config file; try running '%s login'\n", os.Args[0])
	} else if err := json.Unmarshal(raw, &Config); err != nil {
		log.Printf("failed to parse %s: %v", configFile, err)
		log.Fatalf("you may wish to try deleting the file and running '%s login' again\n", os.Args[0])
	}
	if Config.apiDump {
		Config.apiReport = true
	}

	checkVersion()
}

func mustWriteConfig() {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Fatalf("unable to find home directory: %v", err)
	}
	if home == "" {
		log.Fatalf("home directory is not set")
	}
	configFile := filepath.Join(home, perUserDotFile)

	raw, err := json.MarshalIndent(&Config, "", "    ")
	if err != nil {
		log.Fatalf("JSON error encoding cookie file: %v", err)
	}
	raw = append(raw, '\n')

	if err = ioutil.WriteFile(configFile, raw, 0644); err != nil {
		log.Fatalf("error writing %s: %v", configFile, err)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func checkVersion() {
	server := new(Version)
	mustGetObject("/version", nil, server)
	current := semver.MustParse(CurrentVersion.Version)
	required := semver.MustParse(server.CbadminVersionRequired)
	if required.GT(current) {
		log.Printf("this is cbadmin version %s, but the server requires %s or higher", CurrentVersion.Version, server.CbadminVersionRequired)
		log.Fatalf("  you must upgrade to continue")
	}
	recommended := semver.MustParse(server.CbadminVersionRecommended)
	if recommended.GT(current) {
		log.Printf("this is cbadmin version %s, but the server recommends %s or higher", CurrentVersion.Version, server.CbadminVersionRecommended)
		log.Printf("  please upgrade as soon as possible")
	}
}

func dumpBody(resp *http.Response) {
	if resp.Body == nil {
		return
	}

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			log.Fatalf("failed to decompress gzip result: %v", err)
		}
		defer gz.Close()
		io.Copy(os.Stderr, gz)
	} else {
		io.Copy(os.Stderr, resp.Body)
	}
}
