// Package basket 负责委托篮子CSV文件的解析。
package basket

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"rebalance-trader/internal/market"
)

// Row 为篮子文件中的一行委托目标。
type Row struct {
	Instrument        market.Instrument
	Direction         market.Direction
	TargetVolume      float64
	CadenceTicks      int
	ParticipationRate float64
}

var requiredColumns = []string{
	"instrument",
	"direction",
	"target_volume",
	"cadence_ticks",
	"participation_rate",
}

// Load 解析篮子CSV文件。任何一行非法都放弃整个文件，不做部分导入。
func Load(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("basket: 打开篮子文件失败: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse 从数据流解析篮子内容，首行必须为表头。
func Parse(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("basket: 读取表头失败: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, column := range requiredColumns {
		if _, ok := index[column]; !ok {
			return nil, fmt.Errorf("basket: 表头缺少列 %q", column)
		}
	}

	var rows []Row
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("basket: 第%d行解析失败: %w", line, err)
		}

		row, err := parseRow(record, index)
		if err != nil {
			return nil, fmt.Errorf("basket: 第%d行非法: %w", line, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func parseRow(record []string, index map[string]int) (Row, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[index[name]])
	}

	instrument, err := market.ParseInstrument(field("instrument"))
	if err != nil {
		return Row{}, err
	}

	direction := market.Direction(strings.ToLower(field("direction")))
	if !direction.Valid() {
		return Row{}, fmt.Errorf("非法方向 %q", field("direction"))
	}

	targetVolume, err := strconv.ParseFloat(field("target_volume"), 64)
	if err != nil {
		return Row{}, fmt.Errorf("非法目标量 %q", field("target_volume"))
	}
	if targetVolume < 0 {
		return Row{}, fmt.Errorf("目标量不能为负: %v", targetVolume)
	}

	cadenceTicks, err := strconv.Atoi(field("cadence_ticks"))
	if err != nil {
		return Row{}, fmt.Errorf("非法执行节拍 %q", field("cadence_ticks"))
	}

	participationRate, err := strconv.ParseFloat(field("participation_rate"), 64)
	if err != nil {
		return Row{}, fmt.Errorf("非法参与率 %q", field("participation_rate"))
	}
	if participationRate <= 0 || participationRate > 1 {
		return Row{}, fmt.Errorf("参与率需在(0,1]区间: %v", participationRate)
	}

	return Row{
		Instrument:        instrument,
		Direction:         direction,
		TargetVolume:      targetVolume,
		CadenceTicks:      cadenceTicks,
		ParticipationRate: participationRate,
	}, nil
}
