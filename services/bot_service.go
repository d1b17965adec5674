package services

import (
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/models"
)

// 模板 key 及兜底文案。库里没配置时必须逐字使用兜底值。
const (
	TemplateGreeting             = "greeting"
	TemplateMenuOptions          = "menu_options"
	TemplateMenuPrompt           = "menu_prompt"
	TemplateDepartmentListHeader = "department_list_header"
	TemplateDepartmentTransfer   = "department_transfer"
	TemplateNoDepartments        = "no_departments"
	TemplateErrorMessage         = "error_message"
)

const (
	FallbackGreeting             = "Olá! 👋 Bem-vindo ao nosso atendimento."
	FallbackMenuOptions          = "Digite *1* para falar com um de nossos atendentes."
	FallbackMenuPrompt           = "Como podemos ajudar?"
	FallbackDepartmentListHeader = "Escolha um departamento digitando o número correspondente:"
	FallbackDepartmentTransfer   = "Perfeito! Você será atendido pelo departamento *{department}*. Aguarde um momento, por favor."
	FallbackNoDepartments        = "No momento não há departamentos disponíveis, mas um atendente irá falar com você em breve."
	FallbackErrorMessage         = "Desculpe, ocorreu um erro. Um atendente irá falar com você em breve."
)

// BotResult 机器人应答。Reply 永远有值，其余字段都是可选的增量更新：
// 为 nil 表示该字段不动。
type BotResult struct {
	Reply        string
	MenuLevel    *string
	NeedsHuman   *bool
	BotActive    *bool
	DepartmentID *uint
	Status       *string
}

// BotService 菜单机器人。状态机只有两级：主菜单和部门选择，
// 当前位置存在会话的 CurrentMenuLevel 上。
type BotService struct {
	templates *TemplateService
	directory *DirectoryService
}

func NewBotService(templates *TemplateService, directory *DirectoryService) *BotService {
	return &BotService{templates: templates, directory: directory}
}

// HandleInput 根据当前菜单层级处理客户输入。
// 内部任何失败都降级为 error_message 话术并转人工，绝不把客户晾在原地。
func (s *BotService) HandleInput(conversation *models.Conversation, input string) (result BotResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Bot] panic while handling input on conversation %d: %v", conversation.ID, r)
			result = s.failover()
		}
	}()

	result, err := s.respond(conversation, input)
	if err != nil {
		log.Printf("[Bot] error while handling input on conversation %d: %v", conversation.ID, err)
		return s.failover()
	}
	return result
}

func (s *BotService) respond(conversation *models.Conversation, input string) (BotResult, error) {
	switch conversation.CurrentMenuLevel {
	case models.MenuLevelDepartmentSelection:
		return s.handleDepartmentSelection(input)
	default:
		// 未知层级一律按主菜单处理
		return s.handleMain(input)
	}
}

func (s *BotService) handleMain(input string) (BotResult, error) {
	if strings.TrimSpace(input) == "1" {
		departments, err := s.directory.ActiveDepartments()
		if err != nil {
			return BotResult{}, err
		}
		if len(departments) == 0 {
			return s.noDepartments(), nil
		}
		level := models.MenuLevelDepartmentSelection
		return BotResult{
			Reply:     s.renderDepartmentList(departments),
			MenuLevel: &level,
		}, nil
	}

	// 其他任何输入都只重发菜单，不改状态、不写库
	reply := s.templates.Lookup(TemplateGreeting, FallbackGreeting) + "\n\n" +
		s.templates.Lookup(TemplateMenuOptions, FallbackMenuOptions) + "\n\n" +
		s.templates.Lookup(TemplateMenuPrompt, FallbackMenuPrompt)
	return BotResult{Reply: reply}, nil
}

func (s *BotService) handleDepartmentSelection(input string) (BotResult, error) {
	departments, err := s.directory.ActiveDepartments()
	if err != nil {
		return BotResult{}, err
	}
	if len(departments) == 0 {
		return s.noDepartments(), nil
	}

	choice, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || choice < 1 || choice > len(departments) {
		// 输入无效就重发列表，停在当前层级
		return BotResult{Reply: s.renderDepartmentList(departments)}, nil
	}

	selected := departments[choice-1]
	reply := Render(s.templates.Lookup(TemplateDepartmentTransfer, FallbackDepartmentTransfer),
		map[string]string{"department": selected.Name})

	needsHuman := true
	botActive := false
	status := models.ConversationWaiting
	departmentID := selected.ID
	return BotResult{
		Reply:        reply,
		NeedsHuman:   &needsHuman,
		BotActive:    &botActive,
		DepartmentID: &departmentID,
		Status:       &status,
	}, nil
}

func (s *BotService) renderDepartmentList(departments []models.Department) string {
	var b strings.Builder
	b.WriteString(s.templates.Lookup(TemplateDepartmentListHeader, FallbackDepartmentListHeader))
	for i, dept := range departments {
		b.WriteString(fmt.Sprintf("\n*%d* - %s", i+1, dept.Name))
	}
	return b.String()
}

// 没有可选部门时也要转人工，不能让客户卡死在菜单里
func (s *BotService) noDepartments() BotResult {
	needsHuman := true
	botActive := false
	status := models.ConversationWaiting
	return BotResult{
		Reply:      s.templates.Lookup(TemplateNoDepartments, FallbackNoDepartments),
		NeedsHuman: &needsHuman,
		BotActive:  &botActive,
		Status:     &status,
	}
}

func (s *BotService) failover() BotResult {
	needsHuman := true
	botActive := false
	status := models.ConversationWaiting
	return BotResult{
		Reply:      s.templates.Lookup(TemplateErrorMessage, FallbackErrorMessage),
		NeedsHuman: &needsHuman,
		BotActive:  &botActive,
		Status:     &status,
	}
}
