package domain

import "time"

type Shop struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"column:name;size:128"`
	TypeID    int64     `json:"typeId" gorm:"column:type_id;index"`
	Images    string    `json:"images" gorm:"column:images;size:1024"`
	Area      string    `json:"area" gorm:"column:area;size:128"`
	Address   string    `json:"address" gorm:"column:address;size:255"`
	X         float64   `json:"x" gorm:"column:x"`
	Y         float64   `json:"y" gorm:"column:y"`
	AvgPrice  int64     `json:"avgPrice" gorm:"column:avg_price"`
	Sold      int       `json:"sold" gorm:"column:sold"`
	Comments  int       `json:"comments" gorm:"column:comments"`
	Score     int       `json:"score" gorm:"column:score"`
	OpenHours string    `json:"openHours" gorm:"column:open_hours;size:32"`
	CreatedAt time.Time `json:"createTime" gorm:"column:create_time;autoCreateTime"`
	UpdatedAt time.Time `json:"updateTime" gorm:"column:update_time;autoUpdateTime"`
}

func (Shop) TableName() string {
	return "tb_shop"
}

type ShopType struct {
	ID   int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"column:name;size:32"`
	Icon string `json:"icon" gorm:"column:icon;size:255"`
	Sort int    `json:"sort" gorm:"column:sort"`
}

func (ShopType) TableName() string {
	return "tb_shop_type"
}
