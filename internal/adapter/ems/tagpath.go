package ems

import "encoding/json"

// tagPathNode is one hop in a meter's sourceTagPath, a JSON array encoded
// as a string on the entity.
type tagPathNode struct {
	Type       string `json:"type"`
	ParentType string `json:"parentType"`
	Topic      string `json:"topic"`
	Name       string `json:"name"`
}

// TagPathInfo is the site lineage extracted from a meter's tag path.
type TagPathInfo struct {
	SiteID   string
	SiteName string
	Country  string
	State    string
}

// ParseTagPath extracts site identity and geography from a sourceTagPath
// string. The site is the CommercialTower hop (topic carries the site
// identifier); country and state come from hops parented by Community and
// SiteGroup. Malformed paths yield zero values, never an error, matching
// the lenient handling upstream data requires.
func ParseTagPath(raw string) TagPathInfo {
	var info TagPathInfo
	if raw == "" {
		return info
	}

	var path []tagPathNode
	if err := json.Unmarshal([]byte(raw), &path); err != nil {
		return info
	}

	for _, node := range path {
		if node.Type == "CommercialTower" {
			if info.SiteID == "" {
				info.SiteID = node.Topic
			}
			if info.SiteName == "" {
				info.SiteName = node.Name
			}
		}
		if node.ParentType == "Community" && node.Name != "" {
			info.Country = node.Name
		}
		if node.ParentType == "SiteGroup" && node.Name != "" {
			info.State = node.Name
		}
	}
	return info
}
