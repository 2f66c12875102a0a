package model

import "time"

const UserTableName = "users"

// User is the stable identity of a player. It is issued by the account
// service and referenced by ID everywhere else.
type User struct {
	UserID     string    `bson:"user_id" json:"userID"`         // 全局唯一、不可变的用户ID
	Nickname   string    `bson:"nickname" json:"displayName"`   // 显示名
	CreateTime time.Time `bson:"create_time" json:"createTime"` // 创建时间
	UpdateTime time.Time `bson:"update_time" json:"updateTime"` // 最后更新时间
}

func (u *User) GetUserID() string   { return u.UserID }
func (u *User) GetNickname() string { return u.Nickname }
