package profile

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/wegman-software/vtpipe/internal/config"
	"github.com/wegman-software/vtpipe/internal/vectortile"
)

// LuaProfile lets a style author script per-layer post-processing. A script
// declares static rules up front:
//
//	vtpipe.layer{name = "road", merge_lines = {min_length = 0.5, tolerance = 0.25, clip = 4}}
//	vtpipe.layer{name = "wood", merge_polygons = {min_area = 4, min_dist = 0.5, buffer = 2}}
//
// and can optionally register a callback consulted per layer and zoom,
// returning a rule table (or nil to fall back to the layer's static rules):
//
//	vtpipe.post_process_layer = function(layer, zoom)
//	  if layer == "water" and zoom < 10 then
//	    return {merge_polygons = {min_area = 8, min_dist = 1, buffer = 1}}
//	  end
//	end
type LuaProfile struct {
	mu sync.Mutex
	l  *lua.LState

	static      map[string]*config.LayerStyle
	postProcess lua.LValue
}

// NewLuaProfile creates a Lua runtime with the vtpipe API registered.
func NewLuaProfile() *LuaProfile {
	L := lua.NewState(lua.Options{SkipOpenLibs: false})
	p := &LuaProfile{
		l:      L,
		static: make(map[string]*config.LayerStyle),
	}
	p.registerAPI()
	return p
}

// Close releases Lua resources.
func (p *LuaProfile) Close() {
	p.l.Close()
}

func (p *LuaProfile) registerAPI() {
	vtpipe := p.l.NewTable()
	vtpipe.RawSetString("version", lua.LString("1.0.0"))
	p.l.SetField(vtpipe, "layer", p.l.NewFunction(p.defineLayer))
	p.l.SetGlobal("vtpipe", vtpipe)
}

// LoadFile loads and executes a Lua profile script.
func (p *LuaProfile) LoadFile(path string) error {
	if err := p.l.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua profile: %w", err)
	}
	p.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string (for testing).
func (p *LuaProfile) LoadString(code string) error {
	if err := p.l.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua profile: %w", err)
	}
	p.extractCallbacks()
	return nil
}

func (p *LuaProfile) extractCallbacks() {
	vtpipe := p.l.GetGlobal("vtpipe")
	if tbl, ok := vtpipe.(*lua.LTable); ok {
		cb := tbl.RawGetString("post_process_layer")
		if cb.Type() == lua.LTFunction {
			p.postProcess = cb
		}
	}
}

// defineLayer implements vtpipe.layer{...}
func (p *LuaProfile) defineLayer(L *lua.LState) int {
	def := L.CheckTable(1)
	name := lua.LVAsString(def.RawGetString("name"))
	if name == "" {
		L.RaiseError("vtpipe.layer requires a name")
		return 0
	}
	style := &config.LayerStyle{Name: name}
	if rule := tableToLinesRule(def.RawGetString("merge_lines")); rule != nil {
		style.MergeLines = rule
	}
	if rule := tableToPolygonsRule(def.RawGetString("merge_polygons")); rule != nil {
		style.MergePolygons = rule
	}
	p.static[name] = style
	return 0
}

func tableToLinesRule(v lua.LValue) *config.MergeLinesRule {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	return &config.MergeLinesRule{
		MinLength: floatField(tbl, "min_length"),
		Tolerance: floatField(tbl, "tolerance"),
		Clip:      floatField(tbl, "clip"),
	}
}

func tableToPolygonsRule(v lua.LValue) *config.MergePolygonsRule {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	return &config.MergePolygonsRule{
		MinArea: floatField(tbl, "min_area"),
		MinDist: floatField(tbl, "min_dist"),
		Buffer:  floatField(tbl, "buffer"),
	}
}

func floatField(tbl *lua.LTable, name string) float64 {
	if n, ok := tbl.RawGetString(name).(lua.LNumber); ok {
		return float64(n)
	}
	return 0
}

// PostProcessLayerFeatures resolves the rules for this layer and zoom (the
// dynamic callback wins over static declarations) and applies them.
func (p *LuaProfile) PostProcessLayerFeatures(layer string, zoom int, features []vectortile.Feature) ([]vectortile.Feature, error) {
	lines, polygons, err := p.rulesFor(layer, zoom)
	if err != nil {
		return nil, err
	}
	if lines == nil && polygons == nil {
		return nil, nil
	}
	return applyRules(lines, polygons, features)
}

func (p *LuaProfile) rulesFor(layer string, zoom int) (*config.MergeLinesRule, *config.MergePolygonsRule, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.postProcess != nil {
		err := p.l.CallByParam(lua.P{Fn: p.postProcess, NRet: 1, Protect: true},
			lua.LString(layer), lua.LNumber(zoom))
		if err != nil {
			return nil, nil, fmt.Errorf("lua post_process_layer failed: %w", err)
		}
		ret := p.l.Get(-1)
		p.l.Pop(1)
		if tbl, ok := ret.(*lua.LTable); ok {
			return tableToLinesRule(tbl.RawGetString("merge_lines")),
				tableToPolygonsRule(tbl.RawGetString("merge_polygons")), nil
		}
		// nil return falls through to static rules
	}

	if style, ok := p.static[layer]; ok {
		return style.MergeLines, style.MergePolygons, nil
	}
	return nil, nil, nil
}
