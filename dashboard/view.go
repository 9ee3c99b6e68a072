// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package dashboard builds the supervisor's view models from cached telemetry
// and owns the per-session state that keeps them fresh.
//
// What is shown is described declaratively by a ViewSpec: which KPIs, which
// gauges with which classification rules, and which chart series. A ViewSpec is
// compiled once into a View and reused for every render.
package dashboard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/soothill/hvac-supervisor/pkg/coerce"
	"github.com/soothill/hvac-supervisor/telemetry"
)

// Gauge classifications.
const (
	ClassNormal  = "normal"
	ClassAlert   = "alert"
	ClassUnknown = "unknown"
)

// TimeAxisLabel is the x axis title of every chart.
const TimeAxisLabel = "Date / heure"

// KPISpec describes one headline figure.
type KPISpec struct {
	Field    string `yaml:"field" json:"field"`
	Label    string `yaml:"label" json:"label"`
	Unit     string `yaml:"unit,omitempty" json:"unit,omitempty"`
	Decimals *int   `yaml:"decimals,omitempty" json:"decimals,omitempty"`
}

// RuleSpec classifies a gauge value. When is an expr boolean expression over
// value, min, max and threshold.
type RuleSpec struct {
	When  string `yaml:"when" json:"when"`
	Class string `yaml:"class" json:"class"`
}

// GaugeSpec describes one dial. Threshold, when set and no rules are given,
// adds the rule "value >= threshold" classified as alert.
type GaugeSpec struct {
	Field     string     `yaml:"field" json:"field"`
	Label     string     `yaml:"label" json:"label"`
	Unit      string     `yaml:"unit,omitempty" json:"unit,omitempty"`
	Min       float64    `yaml:"min" json:"min"`
	Max       float64    `yaml:"max" json:"max"`
	Threshold *float64   `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Rules     []RuleSpec `yaml:"rules,omitempty" json:"rules,omitempty"`
}

// ChartSpec describes one time series.
type ChartSpec struct {
	Field  string  `yaml:"field" json:"field"`
	Title  string  `yaml:"title" json:"title"`
	YLabel string  `yaml:"y_label" json:"y_label"`
	Min    float64 `yaml:"min" json:"min"`
	Max    float64 `yaml:"max" json:"max"`
}

// ViewSpec is the declarative description of every page.
type ViewSpec struct {
	KPIs           []KPISpec   `yaml:"kpis" json:"kpis"`
	Gauges         []GaugeSpec `yaml:"gauges" json:"gauges"`
	OverviewCharts []ChartSpec `yaml:"overview_charts" json:"overview_charts"`
	HistoryCharts  []ChartSpec `yaml:"history_charts" json:"history_charts"`
	StatePreview   []KPISpec   `yaml:"state_preview" json:"state_preview"`
}

// DefaultViewSpec mirrors the stock supervisor layout.
func DefaultViewSpec() ViewSpec {
	gasThreshold, motorThreshold := 3000.0, 200.0
	temperature := ChartSpec{Field: telemetry.FieldTemperature, Title: "Temperature", YLabel: "Temperature (°C)", Min: 0, Max: 40}
	humidity := ChartSpec{Field: telemetry.FieldHumidity, Title: "Humidity", YLabel: "Humidity (%)", Min: 0, Max: 100}
	return ViewSpec{
		KPIs: []KPISpec{
			{Field: telemetry.FieldTemperature, Label: "Temperature", Unit: "°C"},
			{Field: telemetry.FieldHumidity, Label: "Humidity", Unit: "%"},
			{Field: telemetry.FieldMode, Label: "Mode"},
			{Field: telemetry.FieldAlarm, Label: "Alarm"},
		},
		Gauges: []GaugeSpec{
			{Field: telemetry.FieldGas, Label: "Gas MQ-2", Unit: "ADC", Min: 0, Max: 4095, Threshold: &gasThreshold},
			{Field: telemetry.FieldMotorSpeed, Label: "Motor speed", Unit: "PWM", Min: 0, Max: 255, Threshold: &motorThreshold},
		},
		OverviewCharts: []ChartSpec{temperature, humidity},
		HistoryCharts: []ChartSpec{
			temperature,
			humidity,
			{Field: telemetry.FieldGas, Title: "Gas", YLabel: "Gas (ADC)", Min: 0, Max: 4095},
			{Field: telemetry.FieldMotorSpeed, Title: "Motor speed", YLabel: "Speed (PWM)", Min: 0, Max: 255},
		},
		StatePreview: []KPISpec{
			{Field: telemetry.FieldTemperature, Label: "Temperature", Unit: "°C"},
			{Field: telemetry.FieldHumidity, Label: "Humidity", Unit: "%"},
			{Field: telemetry.FieldGas, Label: "Gas", Unit: "ADC"},
			{Field: telemetry.FieldMotorSpeed, Label: "Speed", Unit: "/255"},
		},
	}
}

type compiledRule struct {
	class   string
	program *vm.Program
}

type compiledGauge struct {
	spec  GaugeSpec
	rules []compiledRule
}

// View is a compiled ViewSpec, safe for concurrent use.
type View struct {
	spec   ViewSpec
	gauges []compiledGauge
}

// Compile validates the spec and compiles its gauge rules.
func (v ViewSpec) Compile() (*View, error) {
	for i, k := range append(append([]KPISpec{}, v.KPIs...), v.StatePreview...) {
		if err := checkKPI(k); err != nil {
			return nil, fmt.Errorf("kpi %d: %w", i, err)
		}
	}
	for i, c := range append(append([]ChartSpec{}, v.OverviewCharts...), v.HistoryCharts...) {
		if err := checkNumericField(c.Field); err != nil {
			return nil, fmt.Errorf("chart %d: %w", i, err)
		}
		if c.Max <= c.Min {
			return nil, fmt.Errorf("chart %d (%s): max %v must exceed min %v", i, c.Field, c.Max, c.Min)
		}
	}

	view := &View{spec: v}
	for i, g := range v.Gauges {
		if err := checkNumericField(g.Field); err != nil {
			return nil, fmt.Errorf("gauge %d: %w", i, err)
		}
		if g.Max <= g.Min {
			return nil, fmt.Errorf("gauge %d (%s): max %v must exceed min %v", i, g.Field, g.Max, g.Min)
		}
		rules := g.Rules
		if len(rules) == 0 && g.Threshold != nil {
			rules = []RuleSpec{{When: "value >= threshold", Class: ClassAlert}}
		}
		cg := compiledGauge{spec: g}
		for j, r := range rules {
			program, err := compileRule(r.When)
			if err != nil {
				return nil, fmt.Errorf("gauge %d (%s) rule %d: %w", i, g.Field, j, err)
			}
			class := strings.TrimSpace(r.Class)
			if class == "" {
				class = ClassAlert
			}
			cg.rules = append(cg.rules, compiledRule{class: class, program: program})
		}
		view.gauges = append(view.gauges, cg)
	}
	return view, nil
}

// MustCompile is Compile for specs known to be valid.
func (v ViewSpec) MustCompile() *View {
	view, err := v.Compile()
	if err != nil {
		panic(err)
	}
	return view
}

// Spec returns the source spec.
func (v *View) Spec() ViewSpec {
	return v.spec
}

func ruleEnv(value float64, g GaugeSpec) map[string]interface{} {
	threshold := g.Max
	if g.Threshold != nil {
		threshold = *g.Threshold
	}
	return map[string]interface{}{
		"value":     value,
		"min":       g.Min,
		"max":       g.Max,
		"threshold": threshold,
	}
}

func compileRule(when string) (*vm.Program, error) {
	when = strings.TrimSpace(when)
	if when == "" {
		return nil, fmt.Errorf("empty rule")
	}
	return expr.Compile(when, expr.Env(ruleEnv(0, GaugeSpec{})), expr.AsBool())
}

func checkKPI(k KPISpec) error {
	if strings.TrimSpace(k.Label) == "" {
		return fmt.Errorf("field %q: label is required", k.Field)
	}
	if k.Field == telemetry.FieldMode {
		return nil
	}
	return checkNumericField(k.Field)
}

func checkNumericField(field string) error {
	for _, f := range telemetry.NumericFields() {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("unknown field %q", field)
}

// KPI is a rendered headline figure.
type KPI struct {
	Field string   `json:"field"`
	Label string   `json:"label"`
	Text  string   `json:"text"`
	Value *float64 `json:"value,omitempty"`
}

// Gauge is a rendered dial. BarValue is the needle position: the value, or
// zero when the value is absent.
type Gauge struct {
	Field     string   `json:"field"`
	Label     string   `json:"label"`
	Unit      string   `json:"unit,omitempty"`
	Min       float64  `json:"min"`
	Max       float64  `json:"max"`
	Threshold *float64 `json:"threshold,omitempty"`
	Value     *float64 `json:"value"`
	BarValue  float64  `json:"bar_value"`
	Text      string   `json:"text"`
	Class     string   `json:"class"`
}

// KPIs renders specs against a reading.
func (v *View) KPIs(specs []KPISpec, r telemetry.Reading) []KPI {
	out := make([]KPI, 0, len(specs))
	for _, s := range specs {
		out = append(out, renderKPI(s, r))
	}
	return out
}

func renderKPI(s KPISpec, r telemetry.Reading) KPI {
	k := KPI{Field: s.Field, Label: s.Label}
	switch s.Field {
	case telemetry.FieldMode:
		k.Text = r.ModeDisplay()
		return k
	case telemetry.FieldAlarm:
		k.Text = r.AlarmText()
		v, _ := r.Value(s.Field)
		k.Value = &v
		return k
	}

	v, ok := r.Value(s.Field)
	if !ok {
		k.Text = coerce.Placeholder
		return k
	}
	k.Value = &v
	decimals := -1
	if s.Decimals != nil {
		decimals = *s.Decimals
	}
	k.Text = withUnit(strconv.FormatFloat(v, 'f', decimals, 64), s.Unit)
	return k
}

// Gauges renders every gauge against a reading.
func (v *View) Gauges(r telemetry.Reading) []Gauge {
	out := make([]Gauge, 0, len(v.gauges))
	for _, cg := range v.gauges {
		out = append(out, cg.render(r))
	}
	return out
}

func (cg compiledGauge) render(r telemetry.Reading) Gauge {
	s := cg.spec
	g := Gauge{
		Field:     s.Field,
		Label:     s.Label,
		Unit:      s.Unit,
		Min:       s.Min,
		Max:       s.Max,
		Threshold: s.Threshold,
		Text:      coerce.Placeholder,
		Class:     ClassUnknown,
	}
	value, ok := r.Value(s.Field)
	if !ok {
		return g
	}
	g.Value = &value
	g.BarValue = value
	g.Text = withUnit(strconv.FormatFloat(value, 'f', 0, 64), s.Unit)
	g.Class = cg.classify(value)
	return g
}

// classify returns the class of the first matching rule, or normal.
func (cg compiledGauge) classify(value float64) string {
	env := ruleEnv(value, cg.spec)
	for _, rule := range cg.rules {
		out, err := expr.Run(rule.program, env)
		if err != nil {
			continue
		}
		if matched, ok := out.(bool); ok && matched {
			return rule.class
		}
	}
	return ClassNormal
}

func withUnit(text, unit string) string {
	if unit == "" {
		return text
	}
	return text + " " + unit
}
