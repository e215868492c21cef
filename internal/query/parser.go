package query

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"golang.org/x/text/cases"
)

var (
	durationPattern = regexp.MustCompile(`^(?:[0-9]+[shmdw])+$`)
	durationPart    = regexp.MustCompile(`([0-9]+)([shmdw])`)
)

// Worlds resolves world names for the world parameter.
type Worlds interface {
	WorldByName(name string) (uuid.UUID, bool)
}

// Sender is who issued the command. A nil location means the console.
type Sender struct {
	Location *world.Location
}

// Console reports whether the sender has no location.
func (s Sender) Console() bool {
	return s.Location == nil
}

// Flags are the parsed boolean switches.
type Flags struct {
	NoGroup     bool
	NoDefaults  bool
	Overwrite   bool
	DrainLava   bool
	RemoveDrops bool
}

// Apply enables the ruleset options requested by flags. Flags never disable options.
func (f Flags) Apply(rules *action.Ruleset) {
	rules.Overwrite = rules.Overwrite || f.Overwrite
	rules.DrainLava = rules.DrainLava || f.DrainLava
	rules.RemoveDrops = rules.RemoveDrops || f.RemoveDrops
}

// Parsed is the outcome of parsing command arguments.
type Parsed struct {
	Query *activity.Query
	Flags Flags
}

// Parser builds queries from command arguments, filling absent parameters from config defaults.
type Parser struct {
	registry *action.Registry
	worlds   Worlds
	defaults map[string]string
	tags     config.Tags
	now      func() time.Time
}

// NewParser creates a parser.
func NewParser(registry *action.Registry, worlds Worlds, cfg *config.CoreConfig) *Parser {
	return &Parser{
		registry: registry,
		worlds:   worlds,
		defaults: cfg.Defaults.Parameters,
		tags:     cfg.Tags,
		now:      time.Now,
	}
}

// parseState carries one Parse call.
type parseState struct {
	p      *Parser
	args   *Arguments
	sender Sender
	flags  Flags
	q      *activity.Query
}

// value returns an explicit parameter, or its default when allowed. Used defaults are recorded.
func (s *parseState) value(key string, allowDefault bool) (string, bool) {
	if v, ok := s.args.Param(key); ok {
		return v, true
	}

	if !allowDefault || s.flags.NoDefaults {
		return "", false
	}

	v, ok := s.p.defaults[key]
	if !ok || v == "" {
		return "", false
	}

	s.q.DefaultsUsed = append(s.q.DefaultsUsed, key+":"+v)

	return v, true
}

// Parse builds a lookup-shaped query. Callers convert it with Rollback or Restore.
func (p *Parser) Parse(args []string, sender Sender) (*Parsed, error) {
	a, err := ParseArguments(args)
	if err != nil {
		return nil, err
	}

	s := &parseState{
		p:      p,
		args:   a,
		sender: sender,
		flags: Flags{
			NoGroup:     a.HasFlag(FlagNoGroup),
			NoDefaults:  a.HasFlag(FlagNoDefaults),
			Overwrite:   a.HasFlag(FlagOverwrite),
			DrainLava:   a.HasFlag(FlagDrainLava),
			RemoveDrops: a.HasFlag(FlagRemoveDrops),
		},
		q: activity.NewLookup(),
	}

	if s.flags.NoGroup {
		s.q.Grouped = false
	}

	// Activity IDs identify rows exactly, so nothing else applies
	if raw, ok := a.Param("id"); ok {
		for _, part := range splitList(raw) {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, invalid(CodeInvalidNumber, "id", part)
			}

			s.q.ActivityIDs = append(s.q.ActivityIDs, id)
		}

		return &Parsed{Query: s.q, Flags: s.flags}, nil
	}

	steps := []func() error{
		s.parseSpatial,
		s.parseTime,
		s.parseActions,
		s.parseMaterials,
		s.parseEntities,
		s.parsePlayers,
		s.parseMisc,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	return &Parsed{Query: s.q, Flags: s.flags}, nil
}

func (s *parseState) parseSpatial() error {
	var (
		worldID  uuid.UUID
		hasWorld bool
	)

	if s.sender.Location != nil {
		worldID = s.sender.Location.WorldID
		hasWorld = true
	}

	if name, ok := s.value("world", true); ok {
		id, found := s.p.worlds.WorldByName(name)
		if !found {
			return invalid(CodeInvalidWorld, "world", name)
		}

		worldID = id
		hasWorld = true
		s.q.WorldID = id
	}

	at, hasAt := s.value("at", true)
	if hasAt {
		if !hasWorld {
			return invalid(CodeAtNoWorld, "at", at)
		}

		ref, ok := parseVector(at)
		if !ok {
			return invalid(CodeInvalidLocation, "at", at)
		}

		s.q.Reference = &ref
		s.q.WorldID = worldID
	}

	in, hasIn := s.value("in", !s.sender.Console())
	if hasIn {
		if err := s.applyIn(in, worldID, hasAt); err != nil {
			return err
		}
	}

	radius, hasRadius := s.args.Param("r")
	if hasRadius && hasIn {
		return invalid(CodeRadiusAndIn, "r", radius)
	}

	if !hasRadius && !hasIn && !hasAt {
		radius, hasRadius = s.value("r", !s.sender.Console())
	}

	if hasRadius {
		if err := s.applyRadius(radius, hasAt); err != nil {
			return err
		}
	}

	bounds, hasBounds := s.value("bounds", true)
	if hasBounds {
		if !hasWorld {
			return invalid(CodeConsoleBounds, "bounds", bounds)
		}

		minV, maxV, ok := parseBounds(bounds)
		if !ok {
			return invalid(CodeInvalidBounds, "bounds", bounds)
		}

		s.q.WorldID = worldID
		s.q.BoundingCoordinates(minV, maxV)
	}

	if hasAt && !hasRadius && !hasIn && !hasBounds {
		s.q.AtCoordinate(*s.q.Reference)
	}

	return nil
}

func (s *parseState) applyIn(in string, worldID uuid.UUID, hasAt bool) error {
	if s.sender.Console() && !hasAt {
		return invalid(CodeConsoleIn, "in", in)
	}

	origin := s.q.Reference
	if origin == nil {
		v := s.sender.Location.Vector
		origin = &v
		worldID = s.sender.Location.WorldID
	}

	switch fold(in) {
	case "world":
		s.q.WorldID = worldID
	case "chunk":
		block := origin.Block()
		chunkX := math.Floor(block.X/world.ChunkSize) * world.ChunkSize
		chunkZ := math.Floor(block.Z/world.ChunkSize) * world.ChunkSize
		s.q.WorldID = worldID
		s.q.BoundingCoordinates(
			world.Vector{X: chunkX, Y: world.MinHeight, Z: chunkZ},
			world.Vector{X: chunkX + world.ChunkSize - 1, Y: world.MaxHeight, Z: chunkZ + world.ChunkSize - 1},
		)
	default:
		return invalid(CodeInvalidIn, "in", in)
	}

	return nil
}

func (s *parseState) applyRadius(raw string, hasAt bool) error {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return invalid(CodeInvalidNumber, "r", raw)
	}

	if !hasAt {
		if s.sender.Console() {
			return invalid(CodeConsoleRadius, "r", raw)
		}

		ref := s.sender.Location.Block()
		s.q.Reference = &ref
		s.q.WorldID = s.sender.Location.WorldID
	}

	return s.q.Radius(n)
}

func (s *parseState) parseTime() error {
	now := s.p.now()

	if before, ok := s.value("before", true); ok {
		d, err := parseDuration(before)
		if err != nil {
			return invalid(CodeInvalidDuration, "before", before)
		}

		s.q.Before = now.Add(-d).Unix()
	}

	if since, ok := s.value("since", true); ok {
		d, err := parseDuration(since)
		if err != nil {
			return invalid(CodeInvalidDuration, "since", since)
		}

		s.q.After = now.Add(-d).Unix()
	}

	return nil
}

func (s *parseState) parseActions() error {
	raw, ok := s.value("a", true)
	if !ok {
		return nil
	}

	for _, name := range splitList(raw) {
		name = fold(name)

		if strings.Contains(name, "-") {
			if _, known := s.p.registry.Get(name); !known {
				return invalid(CodeInvalidAction, "a", name)
			}

			s.q.ActionTypeKeys = appendUnique(s.q.ActionTypeKeys, name)

			continue
		}

		if len(s.p.registry.KeysForFamily(name)) == 0 {
			return invalid(CodeInvalidAction, "a", name)
		}

		s.q.ActionFamilies = appendUnique(s.q.ActionFamilies, name)
	}

	return nil
}

func (s *parseState) parseMaterials() error {
	var err error

	if s.q.AffectedBlocks, err = s.keys("b", s.q.AffectedBlocks); err != nil {
		return err
	}

	if s.q.AffectedBlocks, err = s.tagged("btag", s.p.tags.Blocks, s.q.AffectedBlocks); err != nil {
		return err
	}

	if s.q.CauseBlocks, err = s.keys("bc", s.q.CauseBlocks); err != nil {
		return err
	}

	if s.q.AffectedMaterials, err = s.keys("i", s.q.AffectedMaterials); err != nil {
		return err
	}

	s.q.AffectedMaterials, err = s.tagged("itag", s.p.tags.Items, s.q.AffectedMaterials)

	return err
}

func (s *parseState) parseEntities() error {
	var err error

	if s.q.AffectedEntityTypes, err = s.keys("e", s.q.AffectedEntityTypes); err != nil {
		return err
	}

	if s.q.AffectedEntityTypes, err = s.tagged("etag", s.p.tags.EntityTypes, s.q.AffectedEntityTypes); err != nil {
		return err
	}

	s.q.CauseEntityTypes, err = s.keys("ec", s.q.CauseEntityTypes)

	return err
}

func (s *parseState) parsePlayers() error {
	// p selects what players did, the same as pc
	for _, param := range []string{"p", "pc"} {
		if raw, ok := s.value(param, true); ok {
			for _, name := range splitList(raw) {
				s.q.CausePlayerNames = appendUnique(s.q.CausePlayerNames, name)
			}
		}
	}

	if raw, ok := s.value("pa", true); ok {
		for _, name := range splitList(raw) {
			s.q.AffectedPlayerNames = appendUnique(s.q.AffectedPlayerNames, name)
		}
	}

	return nil
}

func (s *parseState) parseMisc() error {
	if cause, ok := s.value("c", true); ok {
		s.q.NamedCause = fold(cause)
	}

	if raw, ok := s.value("reversed", true); ok {
		reversed, err := strconv.ParseBool(raw)
		if err != nil {
			return invalid(CodeInvalidBoolean, "reversed", raw)
		}

		s.q.Reversed = &reversed
	}

	if text, ok := s.value("q", true); ok {
		s.q.Text = text
	}

	return nil
}

// keys appends namespaced keys from a list parameter.
func (s *parseState) keys(param string, dst []string) ([]string, error) {
	raw, ok := s.value(param, true)
	if !ok {
		return dst, nil
	}

	for _, name := range splitList(raw) {
		key, valid := namespaced(name)
		if !valid {
			return nil, invalid(CodeInvalidNamespace, param, name)
		}

		dst = appendUnique(dst, key)
	}

	return dst, nil
}

// tagged appends every member of the named tags.
func (s *parseState) tagged(param string, tags map[string][]string, dst []string) ([]string, error) {
	raw, ok := s.value(param, true)
	if !ok {
		return dst, nil
	}

	for _, name := range splitList(raw) {
		members, found := tags[fold(name)]
		if !found {
			return nil, invalid(CodeInvalidTag, param, name)
		}

		for _, member := range members {
			dst = appendUnique(dst, world.NamespacedKey(fold(member)))
		}
	}

	return dst, nil
}

// maxDuration bounds before and since values well below time.Duration overflow.
const maxDuration = 100 * 365 * 24 * time.Hour

// parseDuration parses repeated "<n><unit>" segments with units s, m, h, d and w.
func parseDuration(value string) (time.Duration, error) {
	if !durationPattern.MatchString(value) {
		return 0, invalid(CodeInvalidDuration, "", value)
	}

	var total time.Duration

	for _, match := range durationPart.FindAllStringSubmatch(value, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil {
			return 0, err
		}

		unit := time.Second

		switch match[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}

		if time.Duration(n) > maxDuration/unit {
			return 0, invalid(CodeInvalidDuration, "", value)
		}

		total += time.Duration(n) * unit
		if total > maxDuration {
			return 0, invalid(CodeInvalidDuration, "", value)
		}
	}

	return total, nil
}

func parseVector(value string) (world.Vector, bool) {
	parts := strings.Split(value, ",")
	if len(parts) != 3 {
		return world.Vector{}, false
	}

	var coords [3]float64

	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return world.Vector{}, false
		}

		coords[i] = float64(n)
	}

	return world.Vector{X: coords[0], Y: coords[1], Z: coords[2]}, true
}

func parseBounds(value string) (world.Vector, world.Vector, bool) {
	minRaw, maxRaw, found := strings.Cut(value, "/")
	if !found {
		return world.Vector{}, world.Vector{}, false
	}

	minV, ok := parseVector(minRaw)
	if !ok {
		return world.Vector{}, world.Vector{}, false
	}

	maxV, ok := parseVector(maxRaw)
	if !ok {
		return world.Vector{}, world.Vector{}, false
	}

	return minV, maxV, true
}

// namespaced folds a material or entity name into "namespace:key" form.
func namespaced(name string) (string, bool) {
	key := world.NamespacedKey(fold(name))

	namespace, path, _ := strings.Cut(key, ":")
	if namespace == "" || path == "" || strings.Contains(path, ":") {
		return "", false
	}

	return key, true
}

func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

func appendUnique(dst []string, value string) []string {
	for _, v := range dst {
		if v == value {
			return dst
		}
	}

	return append(dst, value)
}
