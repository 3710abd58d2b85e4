package bot

// MessageKey は処理済みメッセージの識別子。
type MessageKey struct {
	Token     string
	MessageID int64
}

// DedupSet は処理済みメッセージの上限付き集合。
// 挿入順を保持し、上限に達すると古い方から半分を破棄する。
// ポーラーのgoroutineのみが所有するためロックを持たない。
type DedupSet struct {
	capacity int
	order    []MessageKey
	members  map[MessageKey]struct{}
}

// NewDedupSet は上限capacityのDedupSetを生成する。capacityが2未満の場合は2とする。
func NewDedupSet(capacity int) *DedupSet {
	if capacity < 2 {
		capacity = 2
	}
	return &DedupSet{
		capacity: capacity,
		order:    make([]MessageKey, 0, capacity),
		members:  make(map[MessageKey]struct{}, capacity),
	}
}

// Contains はkeyが処理済みかを返す。
func (d *DedupSet) Contains(key MessageKey) bool {
	_, ok := d.members[key]
	return ok
}

// Add はkeyを追加する。すでに含まれている場合はfalseを返す。
func (d *DedupSet) Add(key MessageKey) bool {
	if d.Contains(key) {
		return false
	}
	if len(d.order) >= d.capacity {
		d.evictOldestHalf()
	}
	d.order = append(d.order, key)
	d.members[key] = struct{}{}
	return true
}

// Len は保持しているキーの数を返す。
func (d *DedupSet) Len() int {
	return len(d.order)
}

func (d *DedupSet) evictOldestHalf() {
	n := len(d.order) / 2
	for _, k := range d.order[:n] {
		delete(d.members, k)
	}
	kept := make([]MessageKey, len(d.order)-n, d.capacity)
	copy(kept, d.order[n:])
	d.order = kept
}
