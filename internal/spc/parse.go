package spc

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"spc2mqtt/internal/models"
)

// Panel page ids, appended to /secure.htm?session=<sid>&page=.
const (
	PageZones      = "status_zones"
	PageHome       = "spc_home"
	PageDoors      = "status_doors"
	PageOutputs    = "status_outputs"
	PageController = "controller_status"
)

// PagePath builds the path of a protected panel page.
func PagePath(sid, page string) string {
	return "/secure.htm?session=" + url.QueryEscape(sid) + "&page=" + page
}

var sectorLabelPattern = regexp.MustCompile(`(?i)^secteur\s+(\d+)\s*:\s*(.+)$`)

// The parsers below are pure functions of raw HTML. Malformed input never
// panics; rows that do not fit the expected shape are dropped.

// ParseZones reads the status_zones gridtable: rows with at least six cells
// carry name, sector, input state (col 4) and zone state (col 5).
func ParseZones(raw string) []models.Zone {
	doc := parseDoc(raw)
	if doc == nil {
		return nil
	}
	table := firstTableWithClass(doc, "gridtable")
	if table == nil {
		return nil
	}
	var zones []models.Zone
	for _, tr := range elements(table, "tr") {
		tds := cellTexts(tr)
		if len(tds) < 6 {
			continue
		}
		name := tds[0]
		if name == "" {
			continue
		}
		zones = append(zones, models.Zone{
			ID:     EntityID(name),
			Name:   name,
			Sector: tds[1],
			Entree: MapZoneEntree(tds[4]),
			State:  MapZoneState(tds[5]),
		})
	}
	return zones
}

// ParseSectors scans every row of the spc_home page. A row qualifies when
// its second cell reads "Secteur <n> : <name>"; the third cell is the arming
// state. The global "Tous Secteurs" row is emitted under id 0.
func ParseSectors(raw string) []models.Sector {
	doc := parseDoc(raw)
	if doc == nil {
		return nil
	}
	var sectors []models.Sector
	for _, tr := range elements(doc, "tr") {
		tds := cellTexts(tr)
		if len(tds) < 3 {
			continue
		}
		label, state := tds[1], tds[2]
		low := strings.ToLower(label)
		switch {
		case strings.HasPrefix(low, "secteur"):
			m := sectorLabelPattern.FindStringSubmatch(label)
			if m == nil {
				continue
			}
			sectors = append(sectors, models.Sector{
				ID:    m[1],
				Name:  m[2],
				State: MapSectorState(state),
			})
		case strings.HasPrefix(low, "tous secteurs"):
			sectors = append(sectors, models.Sector{
				ID:    "0",
				Name:  label,
				State: MapSectorState(state),
			})
		}
	}
	return sectors
}

// ParseDoors reads the status_doors gridtable. Columns: name, zone, sector,
// door mode, release button (drs), position contact (dps).
func ParseDoors(raw string) []models.Door {
	doc := parseDoc(raw)
	if doc == nil {
		return nil
	}
	table := firstTableWithClass(doc, "gridtable")
	if table == nil {
		return nil
	}
	var doors []models.Door
	for _, tr := range elements(table, "tr") {
		tds := cellTexts(tr)
		if len(tds) < 6 {
			continue
		}
		name := tds[0]
		if name == "" {
			continue
		}
		doors = append(doors, models.Door{
			ID:     EntityID(name),
			Name:   name,
			Zone:   tds[1],
			Sector: tds[2],
			State:  MapDoorState(tds[3]),
			DRS:    MapDoorDRS(tds[4]),
			DPS:    MapDoorDPS(tds[5]),
		})
	}
	return doors
}

// ParseOutputs reads the status_outputs gridtable: name and raw state text.
// Rows carrying action buttons are the controllable outputs, but presence of
// buttons does not change the published record.
func ParseOutputs(raw string) []models.Output {
	doc := parseDoc(raw)
	if doc == nil {
		return nil
	}
	table := firstTableWithClass(doc, "gridtable")
	if table == nil {
		return nil
	}
	var outputs []models.Output
	for _, tr := range elements(table, "tr") {
		tds := cellTexts(tr)
		if len(tds) < 2 {
			continue
		}
		name := tds[0]
		if name == "" {
			continue
		}
		outputs = append(outputs, models.Output{
			ID:       EntityID(name),
			Name:     name,
			State:    MapOutputState(tds[1]),
			StateTxt: tds[1],
		})
	}
	return outputs
}

// ParseControllerStatus reads the controller_status page into (section,
// label, value) entries. Each table forms a section named by its first
// header cell (or its caption), "general" when it has neither; rows with at
// least two cells are entries.
func ParseControllerStatus(raw string) []models.ControllerEntry {
	doc := parseDoc(raw)
	if doc == nil {
		return nil
	}
	var entries []models.ControllerEntry
	for _, table := range elements(doc, "table") {
		section := tableSection(table)
		if section == "" {
			section = "general"
		}
		for _, tr := range elements(table, "tr") {
			tds := cellTexts(tr)
			if len(tds) < 2 || tds[0] == "" {
				continue
			}
			entries = append(entries, models.ControllerEntry{
				Section: section,
				Label:   tds[0],
				Value:   tds[1],
			})
		}
	}
	return entries
}

// tableSection names a controller table from its first th cell, falling
// back to a caption.
func tableSection(table *html.Node) string {
	for _, th := range elements(table, "th") {
		if t := nodeText(th); t != "" {
			return t
		}
	}
	for _, cap := range elements(table, "caption") {
		if t := nodeText(cap); t != "" {
			return t
		}
	}
	return ""
}

// Form is an HTML form found on a panel page: its action URL, the
// field values it would submit, and its submit buttons (name → label).
type Form struct {
	Action  string
	Fields  url.Values
	Buttons map[string]string
}

// ParseForms extracts every form on a page. Hidden and text inputs become
// fields; submit inputs and buttons become Buttons entries.
func ParseForms(raw string) []Form {
	doc := parseDoc(raw)
	if doc == nil {
		return nil
	}
	var forms []Form
	for _, f := range elements(doc, "form") {
		form := Form{
			Action:  attr(f, "action"),
			Fields:  url.Values{},
			Buttons: map[string]string{},
		}
		for _, in := range elements(f, "input") {
			name := attr(in, "name")
			if name == "" {
				continue
			}
			value := attr(in, "value")
			switch strings.ToLower(attr(in, "type")) {
			case "submit", "button":
				form.Buttons[name] = value
			case "checkbox", "radio":
				if hasAttr(in, "checked") {
					form.Fields.Set(name, value)
				}
			default:
				form.Fields.Set(name, value)
			}
		}
		for _, btn := range elements(f, "button") {
			name := attr(btn, "name")
			if name == "" {
				continue
			}
			label := attr(btn, "value")
			if label == "" {
				label = nodeText(btn)
			}
			form.Buttons[name] = label
		}
		for _, sel := range elements(f, "select") {
			name := attr(sel, "name")
			if name == "" {
				continue
			}
			for _, opt := range elements(sel, "option") {
				if hasAttr(opt, "selected") {
					form.Fields.Set(name, attr(opt, "value"))
					break
				}
			}
		}
		forms = append(forms, form)
	}
	return forms
}

// --- node helpers ---

func parseDoc(raw string) *html.Node {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil
	}
	return doc
}

// elements collects all descendant elements with the given tag, in document
// order.
func elements(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.Data == tag {
			out = append(out, node)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func firstTableWithClass(doc *html.Node, class string) *html.Node {
	for _, t := range elements(doc, "table") {
		for _, cl := range strings.Fields(attr(t, "class")) {
			if cl == class {
				return t
			}
		}
	}
	return nil
}

func cellTexts(tr *html.Node) []string {
	tds := elements(tr, "td")
	out := make([]string, len(tds))
	for i, td := range tds {
		out[i] = nodeText(td)
	}
	return out
}

// nodeText concatenates the text content of a node with whitespace runs
// collapsed and the ends trimmed.
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}
