package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"rebalance-trader/internal/algo"
	"rebalance-trader/internal/market"
)

// snapshotRecord 为持久化文件中的单条算法记录。
// target_volume 保存内部带符号的目标量，载入时原样恢复。
type snapshotRecord struct {
	Instrument        string           `json:"instrument"`
	Direction         market.Direction `json:"direction"`
	TargetVolume      float64          `json:"target_volume"`
	CadenceTicks      int              `json:"cadence_ticks"`
	ParticipationRate float64          `json:"participation_rate"`
	OffsetLabel       string           `json:"offset_label"`
	CurrentPos        float64          `json:"current_pos"`
}

// SaveData 把全部算法状态写入主数据文件。
func (e *Engine) SaveData() error {
	if e.cfg.DataPath == "" {
		return nil
	}
	return e.saveTo(e.cfg.DataPath)
}

func (e *Engine) saveTo(path string) error {
	records := make([]snapshotRecord, 0, len(e.algos))

	for _, a := range e.algos {
		st := a.State()

		// 目标与仓位均为零的记录没有恢复价值，不落盘
		if st.CurrentPosition == 0 && st.TargetVolume == 0 {
			continue
		}

		records = append(records, snapshotRecord{
			Instrument:        st.Instrument.String(),
			Direction:         st.Direction,
			TargetVolume:      st.TargetVolume,
			CadenceTicks:      st.CadenceTicks,
			ParticipationRate: st.ParticipationRate,
			OffsetLabel:       st.OffsetLabel,
			CurrentPos:        st.CurrentPosition,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Instrument < records[j].Instrument
	})

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("engine: 序列化快照失败: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("engine: 创建快照目录失败: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("engine: 写入快照失败: %w", err)
	}

	return nil
}

// loadData 从主数据文件恢复算法实例，全部进入等待状态。
// 文件不存在视为首次启动；文件损坏视为致命错误。
func (e *Engine) loadData() error {
	if e.cfg.DataPath == "" {
		return nil
	}

	data, err := os.ReadFile(e.cfg.DataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("engine: 读取快照失败: %w", err)
	}

	var records []snapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("engine: 解析快照失败: %w", err)
	}

	for _, record := range records {
		instrument, err := market.ParseInstrument(record.Instrument)
		if err != nil {
			return fmt.Errorf("engine: 快照记录非法: %w", err)
		}
		if !record.Direction.Valid() {
			return fmt.Errorf("engine: 快照记录 %s 方向非法: %q", record.Instrument, record.Direction)
		}

		// 直接构造实例，不经过合约校验：启动时行情网关可能尚未就绪
		a := e.newAlgo(instrument, record.Direction, math.Abs(record.TargetVolume), record.CadenceTicks, record.ParticipationRate)

		st := a.State()
		st.TargetVolume = record.TargetVolume
		st.OffsetLabel = record.OffsetLabel
		st.CurrentPosition = record.CurrentPos
		if st.Status != algo.StatusStopped {
			st.Status = algo.StatusWaiting
		}

		e.algos[instrument] = a

		if err := e.host.Subscribe(instrument); err != nil {
			e.logger.Warn("订阅行情失败", zap.String("instrument", instrument.String()), zap.Error(err))
		}

		e.putAlgoEvent(a)
	}

	if len(records) > 0 {
		e.WriteLog(fmt.Sprintf("载入算法快照 %d 条", len(records)))
	}

	return nil
}
