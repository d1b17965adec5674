package services

import (
	"strings"

	"gorm.io/gorm"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
)

// TemplateService 机器人话术模板的只读查询。
// 每个 key 都带固定的兜底文案，库里没配也能正常回复。
type TemplateService struct {
	db *gorm.DB
}

func NewTemplateService(db *gorm.DB) *TemplateService {
	return &TemplateService{db: db}
}

// Lookup 按 key 查模板内容，查不到（或查询出错）时返回兜底文案
func (s *TemplateService) Lookup(key, fallback string) string {
	var tpl models.BotMessage
	if err := s.db.Where("key = ?", key).First(&tpl).Error; err != nil {
		return fallback
	}
	if tpl.Content == "" {
		return fallback
	}
	return tpl.Content
}

// Render 替换模板中的 {placeholder} 占位符
func Render(template string, values map[string]string) string {
	out := template
	for name, value := range values {
		out = strings.ReplaceAll(out, "{"+name+"}", value)
	}
	return out
}
