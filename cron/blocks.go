package cron

import "fmt"

// BlockType names a node of the visual rule editor.
type BlockType string

// Minute blocks.
const (
	BlockMinuteAll            BlockType = "cron_minute_all"
	BlockMinuteAt             BlockType = "cron_minute_at"
	BlockMinuteRange          BlockType = "cron_minute_range"
	BlockMinuteIncrement      BlockType = "cron_minute_increment"
	BlockMinuteRangeIncrement BlockType = "cron_minute_range_increment"
)

// Hour blocks.
const (
	BlockHourAll            BlockType = "cron_hour_all"
	BlockHourAt             BlockType = "cron_hour_at"
	BlockHourRange          BlockType = "cron_hour_range"
	BlockHourIncrement      BlockType = "cron_hour_increment"
	BlockHourRangeIncrement BlockType = "cron_hour_range_increment"
)

// Day of month blocks.
const (
	BlockDayAll            BlockType = "cron_day_all"
	BlockDayNoSpecific     BlockType = "cron_day_nospecific"
	BlockDayAt             BlockType = "cron_day_at"
	BlockDayRange          BlockType = "cron_day_range"
	BlockDayIncrement      BlockType = "cron_day_increment"
	BlockDayRangeIncrement BlockType = "cron_day_range_increment"
	BlockDayLast           BlockType = "cron_day_last"
	BlockDayNearestWeekday BlockType = "cron_day_nearest_weekday"
)

// Month blocks.
const (
	BlockMonthAll            BlockType = "cron_month_all"
	BlockMonthAt             BlockType = "cron_month_at"
	BlockMonthRange          BlockType = "cron_month_range"
	BlockMonthIncrement      BlockType = "cron_month_increment"
	BlockMonthRangeIncrement BlockType = "cron_month_range_increment"
)

// Day of week blocks.
const (
	BlockWeekdayAll            BlockType = "cron_dow_all"
	BlockWeekdayNoSpecific     BlockType = "cron_dow_nospecific"
	BlockWeekdayAt             BlockType = "cron_dow_at"
	BlockWeekdayRange          BlockType = "cron_dow_range"
	BlockWeekdayIncrement      BlockType = "cron_dow_increment"
	BlockWeekdayRangeIncrement BlockType = "cron_dow_range_increment"
	BlockWeekdaySaturday       BlockType = "cron_dow_last"
	BlockWeekdayLastOfMonth    BlockType = "cron_dow_last_of_month"
	BlockWeekdayNth            BlockType = "cron_dow_nth"
)

// Year blocks.
const (
	BlockYearAll            BlockType = "cron_year_all"
	BlockYearAt             BlockType = "cron_year_at"
	BlockYearRange          BlockType = "cron_year_range"
	BlockYearIncrement      BlockType = "cron_year_increment"
	BlockYearRangeIncrement BlockType = "cron_year_range_increment"
)

// Block is a renderer independent description of one editor node: which
// block to draw and the values of its inputs.
type Block struct {
	Type   BlockType      `json:"type"`
	Field  Field          `json:"field"`
	Kind   Kind           `json:"kind"`
	Values map[string]int `json:"values,omitempty"`
}

// Input names per kind, in Part.Values order.
var blockInputs = map[Kind][]string{
	At:                {"value"},
	FromTo:            {"from", "to"},
	EachFrom:          {"start", "increment"},
	RangeEach:         {"from", "to", "increment"},
	NearestWeekday:    {"day"},
	NthWeekdayOfMonth: {"weekday", "occurrence"},
}

// simpleBlocks covers the five shapes shared by minute, hour, month and year.
type simpleBlocks struct {
	all, at, fromTo, eachFrom, rangeEach BlockType
}

func (s simpleBlocks) pick(k Kind) (BlockType, bool) {
	switch k {
	case All:
		return s.all, true
	case At:
		return s.at, true
	case FromTo:
		return s.fromTo, true
	case EachFrom:
		return s.eachFrom, true
	case RangeEach:
		return s.rangeEach, true
	default:
		return "", false
	}
}

var (
	minuteBlocks = simpleBlocks{BlockMinuteAll, BlockMinuteAt, BlockMinuteRange, BlockMinuteIncrement, BlockMinuteRangeIncrement}
	hourBlocks   = simpleBlocks{BlockHourAll, BlockHourAt, BlockHourRange, BlockHourIncrement, BlockHourRangeIncrement}
	dayBlocks    = simpleBlocks{BlockDayAll, BlockDayAt, BlockDayRange, BlockDayIncrement, BlockDayRangeIncrement}
	monthBlocks  = simpleBlocks{BlockMonthAll, BlockMonthAt, BlockMonthRange, BlockMonthIncrement, BlockMonthRangeIncrement}
	dowBlocks    = simpleBlocks{BlockWeekdayAll, BlockWeekdayAt, BlockWeekdayRange, BlockWeekdayIncrement, BlockWeekdayRangeIncrement}
	yearBlocks   = simpleBlocks{BlockYearAll, BlockYearAt, BlockYearRange, BlockYearIncrement, BlockYearRangeIncrement}
)

// NewBlock validates p against f and describes the editor node for it.
// Out of range values yield a *RangeError, kinds the field does not support
// a *FieldError.
func NewBlock(f Field, p Part) (Block, error) {
	if err := CheckPart(f, p); err != nil {
		return Block{}, err
	}
	var (
		blockType BlockType
		ok        bool
	)
	switch f {
	case Minute:
		blockType, ok = minuteBlocks.pick(p.Kind)
	case Hour:
		blockType, ok = hourBlocks.pick(p.Kind)
	case DayOfMonth:
		blockType, ok = dayOfMonthBlock(p)
	case Month:
		blockType, ok = monthBlocks.pick(p.Kind)
	case DayOfWeek:
		blockType, ok = dayOfWeekBlock(p)
	case Year:
		blockType, ok = yearBlocks.pick(p.Kind)
	}
	if !ok {
		return Block{}, unsupported(f, p)
	}
	return Block{Type: blockType, Field: f, Kind: p.Kind, Values: blockValues(p)}, nil
}

func dayOfMonthBlock(p Part) (BlockType, bool) {
	switch p.Kind {
	case NoSpecific:
		return BlockDayNoSpecific, true
	case Last:
		return BlockDayLast, true
	case NearestWeekday:
		return BlockDayNearestWeekday, true
	default:
		return dayBlocks.pick(p.Kind)
	}
}

func dayOfWeekBlock(p Part) (BlockType, bool) {
	switch p.Kind {
	case NoSpecific:
		return BlockWeekdayNoSpecific, true
	case Last:
		if len(p.Values) == 1 {
			return BlockWeekdayLastOfMonth, true
		}
		return BlockWeekdaySaturday, true
	case NthWeekdayOfMonth:
		return BlockWeekdayNth, true
	default:
		return dowBlocks.pick(p.Kind)
	}
}

func blockValues(p Part) map[string]int {
	names := blockInputs[p.Kind]
	if p.Kind == Last && len(p.Values) == 1 {
		names = []string{"weekday"}
	}
	if len(names) == 0 {
		return nil
	}
	values := make(map[string]int, len(names))
	for i, name := range names {
		values[name] = p.Values[i]
	}
	return values
}

// Part converts the block back into a validated part.
func (b Block) Part() (Part, error) {
	names := blockInputs[b.Kind]
	if b.Kind == Last && b.Type == BlockWeekdayLastOfMonth {
		names = []string{"weekday"}
	}
	p := Part{Kind: b.Kind}
	for _, name := range names {
		v, ok := b.Values[name]
		if !ok {
			return Part{}, &FieldError{Field: b.Field, Value: string(b.Type), Reason: fmt.Sprintf("missing input %q", name)}
		}
		p.Values = append(p.Values, v)
	}
	if err := CheckPart(b.Field, p); err != nil {
		return Part{}, err
	}
	return p, nil
}

// Blocks describes every part of the expression as editor nodes, one slice
// per field. The year slice is empty for short expressions.
func Blocks(e Expression) ([][]Block, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	result := make([][]Block, 0, e.Len())
	for _, f := range Fields()[:e.Len()] {
		parts := e.fields[f]
		blocks := make([]Block, 0, len(parts))
		for _, part := range parts {
			block, err := NewBlock(f, part)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
		result = append(result, blocks)
	}
	return result, nil
}

// DraftFromBlocks rebuilds a draft from editor nodes. Blocks may arrive in
// any order; parts of one field keep their relative order.
func DraftFromBlocks(blocks []Block, withYear bool) (Draft, error) {
	d := Draft{Year: withYear}
	for _, block := range blocks {
		if !block.Field.Valid() {
			return Draft{}, &FieldError{Field: block.Field, Value: string(block.Type), Reason: "unknown field"}
		}
		part, err := block.Part()
		if err != nil {
			return Draft{}, err
		}
		d.Fields[block.Field] = append(d.Fields[block.Field], part)
	}
	return d, nil
}
