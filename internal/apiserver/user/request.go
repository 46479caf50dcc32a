package user

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"

	"users-admin/internal/shared/model"
)

// CreateRequest 创建用户请求体，role/status 缺省时取默认值
type CreateRequest struct {
	Name   string `json:"name" validate:"required,notblank,max=200"`
	Email  string `json:"email" validate:"required,email,max=320"`
	Role   string `json:"role,omitempty" validate:"omitempty,oneof=admin manager user"`
	Status string `json:"status,omitempty" validate:"omitempty,oneof=active inactive pending"`
}

// PatchRequest 部分更新请求体，未出现的字段保持不变
type PatchRequest struct {
	Name   *string `json:"name,omitempty" validate:"omitempty,notblank,max=200"`
	Email  *string `json:"email,omitempty" validate:"omitempty,email,max=320"`
	Role   *string `json:"role,omitempty" validate:"omitempty,oneof=admin manager user"`
	Status *string `json:"status,omitempty" validate:"omitempty,oneof=active inactive pending"`
}

// FieldError 单个字段的校验错误
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError 请求体校验失败
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "invalid user data: " + strings.Join(parts, "; ")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	// 错误中使用 JSON 字段名
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate 校验创建请求
func (r *CreateRequest) Validate() error {
	return translate(validate.Struct(r))
}

// Validate 校验更新请求
func (r *PatchRequest) Validate() error {
	return translate(validate.Struct(r))
}

// ToInput 转换为存储层输入（已填充默认值）
func (r *CreateRequest) ToInput() *model.UserInput {
	in := model.UserInput{
		Name:   strings.TrimSpace(r.Name),
		Email:  strings.TrimSpace(r.Email),
		Role:   model.UserRole(r.Role),
		Status: model.UserStatus(r.Status),
	}.WithDefaults()
	return &in
}

// ToPatch 转换为存储层补丁
func (r *PatchRequest) ToPatch() *model.UserPatch {
	p := &model.UserPatch{}
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		p.Name = &name
	}
	if r.Email != nil {
		email := strings.TrimSpace(*r.Email)
		p.Email = &email
	}
	if r.Role != nil {
		role := model.UserRole(*r.Role)
		p.Role = &role
	}
	if r.Status != nil {
		status := model.UserStatus(*r.Status)
		p.Status = &status
	}
	return p
}

// translate 将 validator 错误转换为字段错误列表
func translate(err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	out := &ValidationError{}
	for _, fe := range verrs {
		out.Errors = append(out.Errors, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", capitalize(fe.Field()))
	case "email":
		return "Invalid email address"
	case "oneof":
		return fmt.Sprintf("Invalid enum value. Expected one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", capitalize(fe.Field()), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", capitalize(fe.Field()), fe.Tag())
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
