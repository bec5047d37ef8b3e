package database

type HistoryRepository interface {
	Append(entry HistoryEntry) error
	GetRecent(limit int) ([]HistoryEntry, error)
	CountSince(hours int) (int, error)
}

type PendingRepository interface {
	Enqueue(promo PendingPromotion) (string, error)
	ListPending(limit int) ([]PendingPromotion, error)
	CountPending() (int, error)
	Resolve(id string, approved bool) (*PendingPromotion, error)
}

type CategoryRepository interface {
	GetThreadID(name string) (int, bool, error)
	List() ([]Category, error)
}

type ForbiddenWordRepository interface {
	Match(text string) ([]string, error)
}

type SettingRepository interface {
	Get(key string) (string, error)
	Set(key, value string) error
	GetBool(key string, defaultValue bool) bool
}
