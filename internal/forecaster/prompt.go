package forecaster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lox/stationcast/internal/models"
)

const promptTemplate = `Ты — аналитическая система мониторинга погоды.

Проанализируй данные метеостанции и верни ТОЛЬКО JSON.
Никакого текста вне JSON.

Формат:
{
  "summary": "краткий вывод (1 предложение)",
  "rainChance": 0-100,
  "changeIndex": "Низкий | Средний | Высокий",
  "confidence": 0-100,
  "trend": "Стабильно | Ухудшение | Улучшение",
  "riskLevel": "Низкий | Средний | Высокий"
}

Логика анализа:
- Влажность > 70%% и падение давления → высокая вероятность осадков
- Давление < 1000 гПа → нестабильная погода
- Резкие изменения показателей → высокий индекс изменений
- Стабильные показатели → низкий риск

Данные:
%s`

// BuildPrompt embeds the reading document, pretty printed, into the
// analysis instructions. The verbatim document is used when available.
func BuildPrompt(r models.Reading) (string, error) {
	data, err := documentJSON(r)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(promptTemplate, data), nil
}

func documentJSON(r models.Reading) (string, error) {
	if len(r.Raw) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, r.Raw, "", "  "); err == nil {
			return buf.String(), nil
		}
	}
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode reading: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
