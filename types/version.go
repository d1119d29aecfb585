package types

type Version struct {
	Version                   string `json:"version"`
	CbadminVersionRequired    string `json:"cbadminVersionRequired"`
	CbadminVersionRecommended string `json:"cbadminVersionRecommended"`
}

var CurrentVersion = Version{
	Version:                   "1.3.2",
	CbadminVersionRequired:    "1.3.0",
	CbadminVersionRecommended: "1.3.2",
}
