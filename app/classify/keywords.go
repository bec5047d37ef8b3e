package classify

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CatchAllCategory receives everything the keyword table cannot place.
const CatchAllCategory = "Ofertas"

// defaultKeywords maps categories to lowercase keywords. The dashboard can
// override the table via a YAML file; this built-in set keeps the fallback
// working with zero configuration.
var defaultKeywords = map[string][]string{
	"Armazenamento": {
		"ssd", "hd externo", "pendrive", "pen drive", "cartão de memória",
		"micro sd", "microsd", "nvme", "sata", "armazenamento",
	},
	"Informática": {
		"notebook", "monitor", "processador", "placa de vídeo", "placa mãe",
		"memória ram", "gabinete", "fonte atx", "cooler", "roteador",
	},
	"Periféricos": {
		"mouse", "teclado", "headset", "fone de ouvido", "webcam",
		"mousepad", "caixa de som", "microfone", "controle",
	},
	"Smartphones": {
		"smartphone", "celular", "iphone", "xiaomi", "redmi", "poco",
		"galaxy", "motorola", "capinha", "película", "carregador",
	},
	"Eletrônicos": {
		"smart tv", "televisão", "soundbar", "echo dot", "alexa",
		"chromecast", "fire stick", "tablet", "smartwatch", "drone",
	},
	"Casa": {
		"air fryer", "fritadeira", "aspirador", "liquidificador", "cafeteira",
		"ventilador", "panela", "jogo de cama", "travesseiro", "luminária",
	},
	"Games": {
		"playstation", "xbox", "nintendo", "ps5", "ps4", "jogo", "game",
		"gamer", "console",
	},
	"Moda": {
		"tênis", "camiseta", "camisa", "calça", "jaqueta", "mochila",
		"relógio", "óculos", "sandália",
	},
	"Beleza": {
		"perfume", "shampoo", "maquiagem", "hidratante", "protetor solar",
		"barbeador", "secador",
	},
	"Mercado": {
		"café", "chocolate", "whey", "creatina", "sabão", "papel higiênico",
		"fralda", "ração",
	},
}

// KeywordTable maps lowercase keywords to a category for the deterministic
// fallback classifier.
type KeywordTable struct {
	categories map[string][]string
}

func NewKeywordTable() *KeywordTable {
	return &KeywordTable{categories: defaultKeywords}
}

// LoadKeywordTable reads a category keyword YAML file, falling back to the
// built-in table when the file is absent.
func LoadKeywordTable(path string) (*KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("Keyword file not found, using built-in table", "path", path)
			return NewKeywordTable(), nil
		}
		return nil, fmt.Errorf("failed to read keyword file: %w", err)
	}

	var parsed map[string][]string
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse keyword file: %w", err)
	}
	if len(parsed) == 0 {
		return NewKeywordTable(), nil
	}

	slog.Info("Keyword table loaded", "path", path, "categories", len(parsed))

	return &KeywordTable{categories: parsed}, nil
}

// Categories returns the category names in no particular order, always
// including the catch-all.
func (t *KeywordTable) Categories() []string {
	names := make([]string, 0, len(t.categories)+1)
	for name := range t.categories {
		names = append(names, name)
	}
	return append(names, CatchAllCategory)
}

// Match returns the category whose keywords hit the text most often, or the
// catch-all when nothing matches.
func (t *KeywordTable) Match(text string) string {
	lowered := strings.ToLower(text)

	best := CatchAllCategory
	bestHits := 0
	for category, keywords := range t.categories {
		hits := 0
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				hits++
			}
		}
		if hits > bestHits {
			best = category
			bestHits = hits
		}
	}

	return best
}

// Valid reports whether a category name exists in the table.
func (t *KeywordTable) Valid(name string) bool {
	if strings.EqualFold(name, CatchAllCategory) {
		return true
	}
	for category := range t.categories {
		if strings.EqualFold(category, name) {
			return true
		}
	}
	return false
}
