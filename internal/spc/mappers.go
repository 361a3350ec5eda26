package spc

import (
	"regexp"
	"strconv"
	"strings"
)

// Unparseable marks a panel label that maps to no known state. Fields with
// this value are never published.
const Unparseable = -1

// labelRule pairs a predicate over the lowercased label with a state code.
// Rules are evaluated in order; the first match wins, so more specific
// labels ("mes partielle b") come before their prefixes ("mes partielle").
type labelRule struct {
	match func(string) bool
	code  int
}

func has(sub string) func(string) bool {
	return func(s string) bool { return strings.Contains(s, sub) }
}

func hasAll(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if !strings.Contains(s, sub) {
				return false
			}
		}
		return true
	}
}

func is(word string) func(string) bool {
	return func(s string) bool { return s == word }
}

func anyOf(preds ...func(string) bool) func(string) bool {
	return func(s string) bool {
		for _, p := range preds {
			if p(s) {
				return true
			}
		}
		return false
	}
}

func mapLabel(rules []labelRule, text string, fallback int) int {
	s := strings.ToLower(strings.TrimSpace(text))
	for _, r := range rules {
		if r.match(s) {
			return r.code
		}
	}
	return fallback
}

var zoneEntreeRules = []labelRule{
	{has("ferm"), 1},
	{has("ouvert"), 0},
}

// MapZoneEntree maps the zone input column: 1 closed, 0 open.
func MapZoneEntree(text string) int {
	return mapLabel(zoneEntreeRules, text, Unparseable)
}

var zoneStateRules = []labelRule{
	{has("normal"), 0},
	{has("activ"), 1},
}

// MapZoneState maps the zone state column: 0 normal, 1 active.
func MapZoneState(text string) int {
	return mapLabel(zoneStateRules, text, Unparseable)
}

var sectorStateRules = []labelRule{
	{has("mes totale"), 1},
	{hasAll("mes partiel", "b"), 3},
	{has("mes partiel"), 2},
	{has("mhs"), 0},
	{has("désarm"), 0},
	{has("alarme"), 4},
}

// MapSectorState maps an arming label: 0 disarmed (MHS), 1 armed total
// (MES), 2 partial A, 3 partial B, 4 alarm.
func MapSectorState(text string) int {
	return mapLabel(sectorStateRules, text, Unparseable)
}

var outputStateRules = []labelRule{
	{is("on"), 1},
	{is("off"), 0},
}

// MapOutputState maps an output label: 1 on, 0 off.
func MapOutputState(text string) int {
	return mapLabel(outputStateRules, text, Unparseable)
}

var doorStateRules = []labelRule{
	{anyOf(has("déverrouill"), has("deverrouill"), has("accès libre"), has("acces libre")), 1},
	{has("alarme"), 4},
	{anyOf(has("verrouill"), has("normal")), 0},
}

// MapDoorState maps a door mode label: 0 normal/locked, 1 unlocked, 4 alarm.
func MapDoorState(text string) int {
	return mapLabel(doorStateRules, text, Unparseable)
}

var doorDRSRules = []labelRule{
	{anyOf(is("actif"), is("on"), has("activé"), has("enclench"), has("ouvert")), 1},
}

// MapDoorDRS maps the door release-button column to 0/1.
func MapDoorDRS(text string) int {
	return mapLabel(doorDRSRules, text, 0)
}

var doorDPSRules = []labelRule{
	{anyOf(has("maintenu"), has("bloqu")), 3},
	{has("ferm"), 0},
	{has("ouvert"), 1},
	{has("forc"), 2},
	{has("alarme"), 4},
}

// MapDoorDPS maps the door position-contact column to 0..4. The column may
// carry a bare digit on some firmwares.
func MapDoorDPS(text string) int {
	s := strings.TrimSpace(text)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 && n <= 4 {
		return n
	}
	return mapLabel(doorDPSRules, s, 0)
}

var (
	leadingNumber = regexp.MustCompile(`^\s*(\d+)`)
	nonAlnum      = regexp.MustCompile(`[^a-zA-Z0-9]+`)
)

// EntityID derives a stable topic id from an entity name: the leading
// numeric run when present, otherwise a lowercase slug, "unknown" as a last
// resort.
func EntityID(name string) string {
	if m := leadingNumber.FindStringSubmatch(name); m != nil {
		return m[1]
	}
	if slug := Slugify(name); slug != "" {
		return slug
	}
	return "unknown"
}

// Slugify collapses non-alphanumeric runs to underscores and lowercases.
func Slugify(s string) string {
	return strings.ToLower(strings.Trim(nonAlnum.ReplaceAllString(s, "_"), "_"))
}
