package recommend

import (
	"fmt"
	"strings"

	"github.com/voyaiage/go-tourism-chatbot/internal/types"
)

// NoNewMatchesResponse is returned when every retrieved location was
// already visited and revisits are disallowed.
const NoNewMatchesResponse = "Không tìm thấy địa điểm mới phù hợp. Bạn đã ghé thăm tất cả các địa điểm tương tự. Hãy thử tìm kiếm với từ khóa khác hoặc cho phép ghé lại các địa điểm đã thăm."

const promptTemplate = `
Bạn là một hướng dẫn viên du lịch Việt Nam chuyên nghiệp và thân thiện.

Người dùng đang tìm kiếm: "%s"

Dựa trên thông tin các địa điểm dưới đây, hãy viết một đoạn giới thiệu hấp dẫn và chi tiết:

%s

Yêu cầu:
1. Viết bằng tiếng Việt tự nhiên, thân thiện
2. Nêu rõ đặc điểm nổi bật của từng địa điểm
3. Gợi ý lý do nên ghé thăm
4. Sắp xếp theo mức độ phù hợp với yêu cầu
%s

Hãy viết đoạn giới thiệu:
`

// buildLocationContext renders the retrieved locations as the numbered
// block the guide prompt expects. Visited entries are marked only when
// revisits are allowed, since otherwise they never reach the prompt.
func buildLocationContext(matches []types.LocationMatch, visited map[string]bool, allowRevisit bool) string {
	var parts []string
	for i, m := range matches {
		var b strings.Builder
		fmt.Fprintf(&b, "\nĐịa điểm %d:\n", i+1)
		fmt.Fprintf(&b, "- Tên: %s\n", m.Name)
		fmt.Fprintf(&b, "- Địa chỉ: %s\n", m.Address)
		if strings.TrimSpace(m.Description) != "" {
			fmt.Fprintf(&b, "- Mô tả: %s\n", m.Description)
		}
		if m.Rating != nil {
			fmt.Fprintf(&b, "- Đánh giá: %.1f\n", *m.Rating)
		}
		if allowRevisit && visited[m.ID] {
			b.WriteString("- Trạng thái: Đã ghé thăm\n")
		}
		parts = append(parts, b.String())
	}
	return strings.Join(parts, "\n")
}

// buildPrompt assembles the full guide prompt for the LLM.
func buildPrompt(query, locationContext string, filteredCount int) string {
	filterNote := ""
	if filteredCount > 0 {
		filterNote = fmt.Sprintf("\n5. Lưu ý: Đã loại bỏ %d địa điểm mà người dùng đã ghé thăm", filteredCount)
	}
	return fmt.Sprintf(promptTemplate, query, locationContext, filterNote)
}
